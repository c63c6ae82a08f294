package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cppla/audiohub/models"
	"github.com/cppla/audiohub/utils"
)

const oauthStateTTL = 10 * time.Minute

// TokenResult is an issued access token together with the account it was issued for.
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        *models.UserProfile
}

// AuthService handles credential login, token refresh/revocation and provider login.
type AuthService struct {
	users     *UserService
	codec     *utils.TokenCodec
	blacklist *utils.TokenBlacklist
	states    *utils.StateStore
	provider  OAuthProvider
	logger    *zap.Logger
}

// NewAuthService wires the auth flow. provider may be nil when no identity provider is configured.
func NewAuthService(users *UserService, codec *utils.TokenCodec, blacklist *utils.TokenBlacklist, states *utils.StateStore, provider OAuthProvider, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if blacklist == nil {
		blacklist = utils.NewTokenBlacklist(nil)
	}
	if states == nil {
		states = utils.NewStateStore(nil)
	}
	return &AuthService{
		users:     users,
		codec:     codec,
		blacklist: blacklist,
		states:    states,
		provider:  provider,
		logger:    logger.Named("auth"),
	}
}

// Login verifies identifier (email, or username when it has no '@') and password.
func (a *AuthService) Login(ctx context.Context, identifier, password string) (*TokenResult, error) {
	identifier = strings.TrimSpace(identifier)
	var (
		user  *models.UserProfile
		found bool
		err   error
	)
	if strings.Contains(identifier, "@") {
		user, found, err = a.users.GetUserByEmail(ctx, identifier)
	} else {
		user, found, err = a.users.GetUserByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("login: %w", ErrNotFound)
	}
	if !utils.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredential
	}
	return a.issue(user)
}

// Refresh re-issues a valid token with the account's current claims and revokes the old one.
func (a *AuthService) Refresh(ctx context.Context, oldToken string) (*TokenResult, error) {
	claims, err := a.Authenticate(ctx, oldToken)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	res, err := a.issue(user)
	if err != nil {
		return nil, err
	}
	if err := a.blacklist.Revoke(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		a.logger.Warn("revoke refreshed token failed", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	return res, nil
}

// Authenticate verifies signature, expiry and revocation of token.
func (a *AuthService) Authenticate(ctx context.Context, token string) (*utils.Claims, error) {
	claims, err := a.codec.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := a.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		// fail open so a Redis outage does not lock every user out
		a.logger.Warn("revocation lookup failed", zap.Error(err))
	}
	if revoked {
		return nil, fmt.Errorf("%w: revoked", ErrTokenInvalid)
	}
	return claims, nil
}

// Logout revokes token until its natural expiry.
func (a *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := a.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := a.blacklist.Revoke(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		return fmt.Errorf("%w: revoke token", ErrPersistence)
	}
	return nil
}

// AuthorizationURL creates a single-use state and returns the provider login page.
func (a *AuthService) AuthorizationURL(ctx context.Context) (string, error) {
	if a.provider == nil {
		return "", ErrProviderDisabled
	}
	state := uuid.NewString()
	if err := a.states.Save(ctx, state, oauthStateTTL); err != nil {
		return "", fmt.Errorf("%w: save oauth state", ErrPersistence)
	}
	return a.provider.AuthCodeURL(state), nil
}

// OAuthLogin finishes the provider flow: code exchange, profile fetch, find-or-create by email.
// A non-empty state must have been issued by AuthorizationURL.
func (a *AuthService) OAuthLogin(ctx context.Context, code, state string) (*TokenResult, error) {
	if a.provider == nil {
		return nil, ErrProviderDisabled
	}
	if strings.TrimSpace(code) == "" {
		return nil, validationError("missing authorization code")
	}
	if state != "" {
		ok, err := a.states.Consume(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("%w: consume oauth state", ErrPersistence)
		}
		if !ok {
			return nil, validationError("invalid or expired state")
		}
	}

	accessToken, err := a.provider.Exchange(ctx, code)
	if err != nil {
		a.logger.Warn("oauth code exchange failed", zap.String("provider", a.provider.Name()), zap.Error(err))
		return nil, ErrAuthProvider
	}
	profile, err := a.provider.FetchProfile(ctx, accessToken)
	if err != nil {
		a.logger.Warn("oauth profile fetch failed", zap.String("provider", a.provider.Name()), zap.Error(err))
		return nil, ErrAuthProvider
	}
	if profile.Email == "" {
		a.logger.Warn("oauth profile without email", zap.String("provider", a.provider.Name()), zap.String("external_id", profile.ExternalID))
		return nil, ErrAuthProvider
	}

	user, err := a.findOrProvision(ctx, profile)
	if err != nil {
		return nil, err
	}
	return a.issue(user)
}

func (a *AuthService) findOrProvision(ctx context.Context, profile *ProviderProfile) (*models.UserProfile, error) {
	user, found, err := a.users.GetUserByEmail(ctx, profile.Email)
	if err != nil {
		return nil, err
	}
	if found {
		return user, nil
	}

	username, err := a.users.UniqueUsername(ctx, profile.DisplayName, a.provider.Name()+"_"+profile.ExternalID)
	if err != nil {
		return nil, err
	}
	user, err = a.users.CreateUser(ctx, NewUser{
		Email:      profile.Email,
		Username:   username,
		Role:       models.RoleUser,
		Provider:   a.provider.Name(),
		ProviderID: profile.ExternalID,
	})
	if errors.Is(err, ErrAlreadyExists) {
		// a concurrent callback for the same email won the insert
		if existing, ok, lookupErr := a.users.GetUserByEmail(ctx, profile.Email); lookupErr == nil && ok {
			return existing, nil
		}
	}
	return user, err
}

func (a *AuthService) issue(user *models.UserProfile) (*TokenResult, error) {
	token, claims, err := a.codec.Issue(utils.TokenIdentity{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     string(user.Role),
	})
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &TokenResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   claims.ExpiresAtTime(),
		User:        user,
	}, nil
}
