package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_SaveAndDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, 0)
	require.NoError(t, err)

	obj, err := s.Save(context.Background(), "track.mp3", strings.NewReader("ID3 data"))
	require.NoError(t, err)
	assert.Equal(t, "track.mp3", obj.Key)
	assert.Equal(t, int64(8), obj.Size)
	assert.True(t, filepath.IsAbs(obj.Location))

	data, err := os.ReadFile(obj.Location)
	require.NoError(t, err)
	assert.Equal(t, "ID3 data", string(data))

	require.NoError(t, s.Delete(context.Background(), obj.Location))
	_, err = os.Stat(obj.Location)
	assert.True(t, os.IsNotExist(err))

	// deleting twice is fine
	require.NoError(t, s.Delete(context.Background(), obj.Location))
}

func TestLocalStorage_SameKeyOverwrites(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), 0)
	require.NoError(t, err)

	first, err := s.Save(context.Background(), "mix.wav", strings.NewReader("first"))
	require.NoError(t, err)
	second, err := s.Save(context.Background(), "mix.wav", strings.NewReader("second"))
	require.NoError(t, err)
	assert.Equal(t, first.Location, second.Location)

	data, err := os.ReadFile(second.Location)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(dir, "uploads"), 0)
	require.NoError(t, err)

	obj, err := s.Save(context.Background(), "../../etc/passwd", strings.NewReader("x"))
	if err == nil {
		// cleaned into the root rather than escaping it
		assert.True(t, strings.HasPrefix(obj.Location, s.BaseDir()))
	}
	_, err = s.Save(context.Background(), "  ", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	assert.ErrorIs(t, s.Delete(context.Background(), filepath.Join(dir, "outside.mp3")), ErrInvalidKey)
}

func TestLocalStorage_TooLarge(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), 4)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "big.flac", strings.NewReader("0123456789"))
	assert.ErrorIs(t, err, ErrTooLarge)
	_, statErr := os.Stat(filepath.Join(s.BaseDir(), "big.flac"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = s.Save(context.Background(), "ok.flac", strings.NewReader("0123"))
	assert.NoError(t, err)
}

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(in.Body)
	f.objects[*in.Key] = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Storage(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	s := NewS3StorageWithClient(client, S3Config{Bucket: "media", Prefix: "/audios/"})

	obj, err := s.Save(context.Background(), "track.ogg", strings.NewReader("OggS"))
	require.NoError(t, err)
	assert.Equal(t, "s3://media/audios/track.ogg", obj.Location)
	assert.Equal(t, []byte("OggS"), client.objects["audios/track.ogg"])

	require.NoError(t, s.Delete(context.Background(), obj.Location))
	assert.Empty(t, client.objects)

	assert.ErrorIs(t, s.Delete(context.Background(), "s3://other/x"), ErrInvalidKey)

	client.putErr = errors.New("boom")
	_, err = s.Save(context.Background(), "x.mp3", strings.NewReader("x"))
	assert.Error(t, err)
}
