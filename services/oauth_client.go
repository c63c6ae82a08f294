package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/yandex"
)

const ProviderYandex = "yandex"

// ProviderProfile is the identity returned by a provider after a successful exchange.
type ProviderProfile struct {
	ExternalID  string
	DisplayName string
	Email       string
}

// OAuthProvider performs the authorization-code flow against a third party.
type OAuthProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (*ProviderProfile, error)
}

// YandexConfig holds client credentials and endpoints; empty URLs use the public Yandex endpoints.
type YandexConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Timeout      time.Duration
}

// YandexClient talks to Yandex ID.
type YandexClient struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewYandexClient builds a client from cfg.
func NewYandexClient(cfg YandexConfig) *YandexClient {
	endpoint := yandex.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = "https://login.yandex.ru/info?format=json"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YandexClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"login:email", "login:info"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfo,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *YandexClient) Name() string {
	return ProviderYandex
}

// AuthCodeURL returns the provider authorization page for state.
func (c *YandexClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a provider access token.
func (c *YandexClient) Exchange(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("exchange code: empty access token")
	}
	return tok.AccessToken, nil
}

// FetchProfile loads the account behind accessToken.
func (c *YandexClient) FetchProfile(ctx context.Context, accessToken string) (*ProviderProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yandex user info request failed: %s", resp.Status)
	}

	var payload struct {
		ID           string   `json:"id"`
		Login        string   `json:"login"`
		DisplayName  string   `json:"display_name"`
		RealName     string   `json:"real_name"`
		DefaultEmail string   `json:"default_email"`
		Emails       []string `json:"emails"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode yandex user info: %w", err)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("yandex user info without id")
	}

	email := strings.TrimSpace(payload.DefaultEmail)
	if email == "" && len(payload.Emails) > 0 {
		email = strings.TrimSpace(payload.Emails[0])
	}
	return &ProviderProfile{
		ExternalID:  payload.ID,
		DisplayName: fallback(payload.DisplayName, payload.RealName, payload.Login),
		Email:       email,
	}, nil
}

func fallback(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
