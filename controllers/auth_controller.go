package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/audiohub/middleware"
	"github.com/cppla/audiohub/services"
	"github.com/cppla/audiohub/utils"
)

// AuthController handles password login, token refresh/logout and the Yandex flow.
type AuthController struct {
	auth  *services.AuthService
	users *services.UserService
}

// NewAuthController creates an AuthController.
func NewAuthController(auth *services.AuthService, users *services.UserService) *AuthController {
	return &AuthController{auth: auth, users: users}
}

type tokenResponse struct {
	UserID      uint      `json:"user_id"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Role        string    `json:"role"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
}

func newTokenResponse(res *services.TokenResult, withIdentity bool) tokenResponse {
	out := tokenResponse{
		UserID:      res.User.ID,
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		ExpiresAt:   res.ExpiresAt,
		Role:        string(res.User.Role),
	}
	if withIdentity {
		out.Username = res.User.Username
		out.Email = res.User.Email
	}
	return out
}

// Login accepts form fields username/password (OAuth2 password grant style) or
// a JSON body with email or username.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `form:"username" json:"username"`
		Email    string `form:"email" json:"email"`
		Password string `form:"password" json:"password" binding:"required"`
	}
	if err := ctx.ShouldBind(&req); err != nil {
		invalidPayload(ctx)
		return
	}
	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Username)
	}
	if identifier == "" {
		invalidPayload(ctx)
		return
	}

	res, err := a.auth.Login(ctx.Request.Context(), identifier, req.Password)
	if err != nil {
		// unknown account and wrong password look the same to the client
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrInvalidCredential) {
			utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
			return
		}
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, newTokenResponse(res, false))
}

// Refresh exchanges a still valid bearer token for a fresh one.
func (a *AuthController) Refresh(ctx *gin.Context) {
	token, ok := utils.BearerToken(ctx.GetHeader("Authorization"))
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
		return
	}
	res, err := a.auth.Refresh(ctx.Request.Context(), token)
	if err != nil {
		// an account deleted since issuance surfaces as 404
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, newTokenResponse(res, false))
}

// Logout revokes the presented token.
func (a *AuthController) Logout(ctx *gin.Context) {
	if err := a.auth.Logout(ctx.Request.Context(), ctx.GetString(middleware.ContextTokenKey)); err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current authenticated user's information.
func (a *AuthController) Me(ctx *gin.Context) {
	user, err := a.users.GetUserByID(ctx.Request.Context(), middleware.CurrentUserID(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, user)
}

// YandexRedirect sends the browser to the Yandex consent page.
func (a *AuthController) YandexRedirect(ctx *gin.Context) {
	url, err := a.auth.AuthorizationURL(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Redirect(http.StatusTemporaryRedirect, url)
}

// YandexCallback completes the code exchange and logs the account in.
func (a *AuthController) YandexCallback(ctx *gin.Context) {
	if e := ctx.Query("error"); e != "" {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "authorization denied")
		return
	}
	code := strings.TrimSpace(ctx.Query("code"))
	if code == "" {
		utils.Error(ctx, http.StatusUnprocessableEntity, 42204, "missing code")
		return
	}
	res, err := a.auth.OAuthLogin(ctx.Request.Context(), code, ctx.Query("state"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, newTokenResponse(res, true))
}
