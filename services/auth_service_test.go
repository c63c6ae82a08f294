package services

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/audiohub/models"
)

func TestAuthService_LoginIssuesClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "erin@example.com", "erin", "correct-horse")
	before := time.Now().Truncate(time.Second)

	for _, identifier := range []string{"erin@example.com", "erin"} {
		res, err := env.auth.Login(ctx, identifier, "correct-horse")
		require.NoError(t, err, identifier)
		assert.Equal(t, "bearer", res.TokenType)
		assert.Equal(t, u.ID, res.User.ID)

		claims, err := env.codec.Parse(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, u.ID, claims.UserID)
		assert.Equal(t, "erin", claims.Username)
		assert.Equal(t, "erin@example.com", claims.Email)
		assert.Equal(t, string(models.RoleUser), claims.Role)
		assert.True(t, claims.ExpiresAtTime().After(claims.IssuedAt.Time))
		assert.Equal(t, env.codec.TTL(), claims.ExpiresAtTime().Sub(claims.IssuedAt.Time))
		assert.False(t, claims.IssuedAt.Time.Before(before))
	}
}

func TestAuthService_LoginFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "frank@example.com", "frank", "right-password")

	_, err := env.auth.Login(ctx, "frank@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = env.auth.Login(ctx, "ghost@example.com", "whatever")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.auth.Login(ctx, "ghost", "whatever")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthService_RefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "gina@example.com", "gina", "password1")

	login, err := env.auth.Login(ctx, "gina", "password1")
	require.NoError(t, err)

	role := models.RoleAdmin
	_, err = env.users.UpdateUser(ctx, u.ID, UserPatch{Role: &role})
	require.NoError(t, err)

	refreshed, err := env.auth.Refresh(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.AccessToken, refreshed.AccessToken)

	claims, err := env.auth.Authenticate(ctx, refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoleAdmin), claims.Role)

	_, err = env.auth.Authenticate(ctx, login.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = env.auth.Refresh(ctx, login.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthService_RefreshExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "hank@example.com", "hank", "password1")

	login, err := env.auth.Login(ctx, "hank", "password1")
	require.NoError(t, err)

	env.codec.WithClock(func() time.Time { return time.Now().Add(env.codec.TTL() + time.Minute) })
	_, err = env.auth.Refresh(ctx, login.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthService_RefreshDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "ivy@example.com", "ivy", "password1")

	login, err := env.auth.Login(ctx, "ivy", "password1")
	require.NoError(t, err)
	require.NoError(t, env.users.DeleteUser(ctx, u.ID))

	_, err = env.auth.Refresh(ctx, login.AccessToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthService_Logout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "jack@example.com", "jack", "password1")

	login, err := env.auth.Login(ctx, "jack", "password1")
	require.NoError(t, err)
	require.NoError(t, env.auth.Logout(ctx, login.AccessToken))

	_, err = env.auth.Authenticate(ctx, login.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.ErrorIs(t, env.auth.Logout(ctx, "garbage"), ErrTokenInvalid)
}

func TestAuthService_AuthorizationURLAndState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.profile = ProviderProfile{ExternalID: "1", DisplayName: "Kate", Email: "kate@example.com"}

	raw, err := env.auth.AuthorizationURL(ctx)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	_, err = env.auth.OAuthLogin(ctx, "code-1", state)
	require.NoError(t, err)

	// states are single use
	_, err = env.auth.OAuthLogin(ctx, "code-2", state)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.auth.OAuthLogin(ctx, "code-3", "never-issued")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuthService_OAuthExistingAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	existing := env.createUser(t, "leo@example.com", "leo", "password1")
	env.provider.profile = ProviderProfile{ExternalID: "77", DisplayName: "Leo", Email: "leo@example.com"}

	res, err := env.auth.OAuthLogin(ctx, "code", "")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.User.ID)
	assert.Equal(t, int64(1), env.countUsers(t))

	claims, err := env.codec.Parse(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, claims.UserID)
}

func TestAuthService_OAuthProvisionsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.profile = ProviderProfile{ExternalID: "88", DisplayName: "Mia Wong", Email: "mia@example.com"}

	first, err := env.auth.OAuthLogin(ctx, "code-a", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.countUsers(t))
	assert.Equal(t, "mia_wong", first.User.Username)
	assert.Equal(t, "yandex", first.User.Provider)
	assert.Equal(t, models.RoleUser, first.User.Role)

	second, err := env.auth.OAuthLogin(ctx, "code-b", "")
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, int64(1), env.countUsers(t))

	// provisioned accounts have no usable password
	_, err = env.auth.Login(ctx, "mia@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthService_OAuthProviderErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.provider.exchangeErr = errors.New("upstream 500: secret details")
	_, err := env.auth.OAuthLogin(ctx, "code", "")
	assert.ErrorIs(t, err, ErrAuthProvider)
	assert.NotContains(t, err.Error(), "secret details")

	env.provider.exchangeErr = nil
	env.provider.profileErr = errors.New("timeout")
	_, err = env.auth.OAuthLogin(ctx, "code", "")
	assert.ErrorIs(t, err, ErrAuthProvider)

	env.provider.profileErr = nil
	env.provider.profile = ProviderProfile{ExternalID: "5", DisplayName: "No Mail"}
	_, err = env.auth.OAuthLogin(ctx, "code", "")
	assert.ErrorIs(t, err, ErrAuthProvider)
	assert.Equal(t, int64(0), env.countUsers(t))

	_, err = env.auth.OAuthLogin(ctx, " ", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuthService_ProviderDisabled(t *testing.T) {
	env := newTestEnv(t)
	auth := NewAuthService(env.users, env.codec, nil, nil, nil, nil)

	_, err := auth.AuthorizationURL(context.Background())
	assert.ErrorIs(t, err, ErrProviderDisabled)
	_, err = auth.OAuthLogin(context.Background(), "code", "")
	assert.ErrorIs(t, err, ErrProviderDisabled)
}
