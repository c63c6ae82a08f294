package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cppla/audiohub/config"
	"github.com/cppla/audiohub/models"
	"github.com/cppla/audiohub/storage"
	"github.com/cppla/audiohub/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := config.OpenDatabase(sqlite.Open(dsn), nil, &models.UserProfile{}, &models.AudioFile{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type fakeProvider struct {
	mu          sync.Mutex
	profile     ProviderProfile
	exchangeErr error
	profileErr  error
	exchanges   int
}

func (f *fakeProvider) Name() string { return "yandex" }

func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://oauth.example.test/authorize?state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	if code == "" {
		return "", errors.New("empty code")
	}
	return "provider-token-" + code, nil
}

func (f *fakeProvider) FetchProfile(_ context.Context, _ string) (*ProviderProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p := f.profile
	return &p, nil
}

type testEnv struct {
	db       *gorm.DB
	store    *storage.LocalStorage
	codec    *utils.TokenCodec
	provider *fakeProvider
	users    *UserService
	audio    *AudioService
	auth     *AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	store, err := storage.NewLocalStorage(t.TempDir(), 1<<20)
	require.NoError(t, err)
	codec, err := utils.NewTokenCodec("test-secret", "HS256", 30*time.Minute)
	require.NoError(t, err)

	provider := &fakeProvider{}
	users := NewUserService(db, store, nil)
	return &testEnv{
		db:       db,
		store:    store,
		codec:    codec,
		provider: provider,
		users:    users,
		audio:    NewAudioService(db, users, store, nil),
		auth:     NewAuthService(users, codec, utils.NewTokenBlacklist(nil), utils.NewStateStore(nil), provider, nil),
	}
}

func (e *testEnv) createUser(t *testing.T, email, username, password string) *models.UserProfile {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), NewUser{Email: email, Username: username, Password: password})
	require.NoError(t, err)
	return u
}

func (e *testEnv) countUsers(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.UserProfile{}).Count(&n).Error)
	return n
}

// failAudioInserts makes every later audio_files insert on e.db fail.
func (e *testEnv) failAudioInserts(t *testing.T) {
	t.Helper()
	err := e.db.Callback().Create().Before("gorm:create").Register("test:fail_audio_insert", func(tx *gorm.DB) {
		if tx.Statement.Table == (models.AudioFile{}).TableName() {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)
}
