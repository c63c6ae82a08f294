package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/audiohub/models"
)

func mp3Body() *bytes.Reader {
	// ID3v2 header followed by padding
	return bytes.NewReader(append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), bytes.Repeat([]byte{0}, 512)...))
}

func countAudio(t *testing.T, env *testEnv) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&models.AudioFile{}).Count(&n).Error)
	return n
}

func TestAudioService_UploadAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "nina@example.com", "nina", "password1")

	rec, err := env.audio.Upload(ctx, UploadInput{
		OwnerID:      u.ID,
		Filename:     "My Track",
		Description:  "live <script>alert(1)</script>take",
		OriginalName: "track.mp3",
		Body:         mp3Body(),
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, "My_Track", rec.Filename)
	assert.Equal(t, filepath.Join(env.store.BaseDir(), "My_Track.mp3"), rec.Filepath)
	assert.Equal(t, "audio/mpeg", rec.ContentType)
	assert.Equal(t, int64(522), rec.Size)
	assert.NotContains(t, rec.Description, "<script>")
	assert.Nil(t, rec.UpdatedAt)

	data, err := os.ReadFile(rec.Filepath)
	require.NoError(t, err)
	assert.Len(t, data, 522)

	files, err := env.audio.ListByOwner(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, rec.ID, files[0].ID)
}

func TestAudioService_RejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "omar@example.com", "omar", "password1")

	_, err := env.audio.Upload(ctx, UploadInput{OwnerID: u.ID, Filename: "track", OriginalName: "track.exe", Body: strings.NewReader("MZ")})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = env.audio.Upload(ctx, UploadInput{OwnerID: u.ID, Filename: "track", OriginalName: "track", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	assert.Equal(t, int64(0), countAudio(t, env))
	entries, err := os.ReadDir(env.store.BaseDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAudioService_UnknownOwner(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.audio.Upload(context.Background(), UploadInput{OwnerID: 404, Filename: "track", OriginalName: "track.mp3", Body: mp3Body()})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(0), countAudio(t, env))
}

func TestAudioService_ExtensionFromLogicalName(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "pia@example.com", "pia", "password1")

	rec, err := env.audio.Upload(context.Background(), UploadInput{OwnerID: u.ID, Filename: "demo.FLAC", Body: strings.NewReader("fLaC")})
	require.NoError(t, err)
	assert.Equal(t, "demo", rec.Filename)
	assert.True(t, strings.HasSuffix(rec.Filepath, "demo.flac"))
}

func TestAudioService_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "quin@example.com", "quin", "password1")

	big := bytes.NewReader(make([]byte, 2<<20))
	_, err := env.audio.Upload(context.Background(), UploadInput{OwnerID: u.ID, Filename: "big", OriginalName: "big.wav", Body: big})
	assert.ErrorIs(t, err, ErrValidation)
	assert.NoFileExists(t, filepath.Join(env.store.BaseDir(), "big.wav"))
	assert.Equal(t, int64(0), countAudio(t, env))
}

func TestAudioService_InsertFailureRemovesFile(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "rosa@example.com", "rosa", "password1")
	env.failAudioInserts(t)

	_, err := env.audio.Upload(context.Background(), UploadInput{OwnerID: u.ID, Filename: "lost", OriginalName: "lost.ogg", Body: strings.NewReader("OggS")})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.NoFileExists(t, filepath.Join(env.store.BaseDir(), "lost.ogg"))
	assert.Zero(t, countAudio(t, env))
}

func TestAudioService_InsertFailureKeepsSharedFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com", "alice", "password1")
	bob := env.createUser(t, "bob@example.com", "bob", "password1")

	kept, err := env.audio.Upload(ctx, UploadInput{OwnerID: alice.ID, Filename: "track", OriginalName: "track.mp3", Body: strings.NewReader("alice")})
	require.NoError(t, err)

	env.failAudioInserts(t)
	_, err = env.audio.Upload(ctx, UploadInput{OwnerID: bob.ID, Filename: "track", OriginalName: "track.mp3", Body: strings.NewReader("bob")})
	assert.ErrorIs(t, err, ErrPersistence)

	assert.FileExists(t, kept.Filepath)
	_, err = env.audio.GetByID(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestAudioService_DeleteKeepsSharedObject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com", "alice", "password1")
	bob := env.createUser(t, "bob@example.com", "bob", "password1")

	aliceFile, err := env.audio.Upload(ctx, UploadInput{OwnerID: alice.ID, Filename: "track", OriginalName: "track.mp3", Body: strings.NewReader("alice")})
	require.NoError(t, err)
	bobFile, err := env.audio.Upload(ctx, UploadInput{OwnerID: bob.ID, Filename: "track", OriginalName: "track.mp3", Body: strings.NewReader("bob")})
	require.NoError(t, err)
	require.Equal(t, aliceFile.Filepath, bobFile.Filepath)

	require.NoError(t, env.audio.DeleteByID(ctx, aliceFile.ID))
	data, err := os.ReadFile(bobFile.Filepath)
	require.NoError(t, err)
	assert.Equal(t, "bob", string(data))

	require.NoError(t, env.audio.DeleteByID(ctx, bobFile.ID))
	assert.NoFileExists(t, bobFile.Filepath)
}

func TestAudioService_SameNameOverwrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "sam@example.com", "sam", "password1")

	first, err := env.audio.Upload(ctx, UploadInput{OwnerID: u.ID, Filename: "take", OriginalName: "a.mp3", Body: strings.NewReader("first")})
	require.NoError(t, err)
	second, err := env.audio.Upload(ctx, UploadInput{OwnerID: u.ID, Filename: "take", OriginalName: "b.mp3", Body: strings.NewReader("second")})
	require.NoError(t, err)

	assert.Equal(t, first.Filepath, second.Filepath)
	data, err := os.ReadFile(second.Filepath)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestAudioService_DeleteByID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "tom@example.com", "tom", "password1")

	rec, err := env.audio.Upload(ctx, UploadInput{OwnerID: u.ID, Filename: "gone", OriginalName: "gone.mp3", Body: mp3Body()})
	require.NoError(t, err)

	require.NoError(t, env.audio.DeleteByID(ctx, rec.ID))
	assert.NoFileExists(t, rec.Filepath)
	_, err = env.audio.GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, env.audio.DeleteByID(ctx, rec.ID), ErrNotFound)
}

func TestAudioService_ListAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createUser(t, "vic@example.com", "vic", "password1")
	b := env.createUser(t, "wes@example.com", "wes", "password1")

	_, err := env.audio.Upload(ctx, UploadInput{OwnerID: a.ID, Filename: "one", OriginalName: "one.mp3", Body: mp3Body()})
	require.NoError(t, err)
	_, err = env.audio.Upload(ctx, UploadInput{OwnerID: b.ID, Filename: "two", OriginalName: "two.ogg", Body: strings.NewReader("OggS")})
	require.NoError(t, err)

	files, err := env.audio.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestAudioService_ListUnknownOwnerIsEmpty(t *testing.T) {
	env := newTestEnv(t)

	files, err := env.audio.ListByOwner(context.Background(), 999)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAudioService_SweepOrphans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "uma@example.com", "uma", "password1")

	kept, err := env.audio.Upload(ctx, UploadInput{OwnerID: u.ID, Filename: "kept", OriginalName: "kept.mp3", Body: mp3Body()})
	require.NoError(t, err)

	orphan := filepath.Join(env.store.BaseDir(), "orphan.mp3")
	fresh := filepath.Join(env.store.BaseDir(), "fresh.mp3")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))
	require.NoError(t, os.Chtimes(kept.Filepath, old, old))

	removed, err := env.audio.SweepOrphans(ctx, env.store.BaseDir(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, fresh)
	assert.FileExists(t, kept.Filepath)
}

func TestLogicalName(t *testing.T) {
	assert.Equal(t, "song", logicalName("song.mp3"))
	assert.Equal(t, "passwd", logicalName("../../etc/passwd"))
	assert.Equal(t, "my_song_v2", logicalName("my song.v2"))
	assert.Equal(t, "", logicalName("..."))
	assert.Equal(t, "mp3", AudioExtension("A.MP3"))
}
