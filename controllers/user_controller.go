package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/audiohub/middleware"
	"github.com/cppla/audiohub/models"
	"github.com/cppla/audiohub/services"
	"github.com/cppla/audiohub/utils"
)

// UserController exposes account CRUD.
type UserController struct {
	users *services.UserService
}

func NewUserController(users *services.UserService) *UserController {
	return &UserController{users: users}
}

// Create registers an account. Anonymous callers and ordinary users always get
// the user role; admins may grant roles up to their own.
func (u *UserController) Create(ctx *gin.Context) {
	var req struct {
		Email     string `json:"email" binding:"required,email,max=255"`
		Username  string `json:"username" binding:"required,max=50"`
		Password  string `json:"password" binding:"required,min=6,max=72"`
		FirstName string `json:"first_name" binding:"max=100"`
		LastName  string `json:"last_name" binding:"max=100"`
		Role      string `json:"role"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		invalidPayload(ctx)
		return
	}

	role := models.RoleUser
	caller := middleware.CurrentRole(ctx)
	if req.Role != "" && caller.AtLeast(models.RoleAdmin) {
		parsed, err := models.ParseRole(req.Role)
		if err != nil {
			utils.Error(ctx, http.StatusUnprocessableEntity, 42205, "unknown role")
			return
		}
		if !caller.AtLeast(parsed) {
			utils.Error(ctx, http.StatusForbidden, 40302, "cannot grant a role above your own")
			return
		}
		role = parsed
	}

	user, err := u.users.CreateUser(ctx.Request.Context(), services.NewUser{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Created(ctx, user)
}

// List returns paginated users.
func (u *UserController) List(ctx *gin.Context) {
	page, pageSize := 1, 10
	if v := strings.TrimSpace(ctx.Query("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := strings.TrimSpace(ctx.Query("page_size")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	users, total, err := u.users.ListUsers(ctx.Request.Context(), page, pageSize)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"items": users,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	})
}

func (u *UserController) Get(ctx *gin.Context) {
	target, ok := u.authorizedTarget(ctx)
	if !ok {
		return
	}
	utils.Success(ctx, target)
}

// Update patches names, password and, for admins, the role.
func (u *UserController) Update(ctx *gin.Context) {
	target, ok := u.authorizedTarget(ctx)
	if !ok {
		return
	}
	var req struct {
		FirstName *string `json:"first_name" binding:"omitempty,max=100"`
		LastName  *string `json:"last_name" binding:"omitempty,max=100"`
		Password  *string `json:"password" binding:"omitempty,min=6,max=72"`
		Role      *string `json:"role"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		invalidPayload(ctx)
		return
	}

	patch := services.UserPatch{FirstName: req.FirstName, LastName: req.LastName, Password: req.Password}
	if req.Role != nil {
		caller := middleware.CurrentRole(ctx)
		role, err := models.ParseRole(*req.Role)
		if err != nil {
			utils.Error(ctx, http.StatusUnprocessableEntity, 42205, "unknown role")
			return
		}
		if !caller.AtLeast(models.RoleAdmin) || !caller.AtLeast(role) {
			utils.Error(ctx, http.StatusForbidden, 40302, "cannot grant a role above your own")
			return
		}
		patch.Role = &role
	}

	user, err := u.users.UpdateUser(ctx.Request.Context(), target.ID, patch)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, user)
}

// Delete removes the account and its uploads.
func (u *UserController) Delete(ctx *gin.Context) {
	target, ok := u.authorizedTarget(ctx)
	if !ok {
		return
	}
	if err := u.users.DeleteUser(ctx.Request.Context(), target.ID); err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"id": target.ID})
}

// authorizedTarget loads the :id account and checks the caller is that account
// or an admin ranked at least as high.
func (u *UserController) authorizedTarget(ctx *gin.Context) (*models.UserProfile, bool) {
	id, ok := uintParam(ctx, "id")
	if !ok {
		return nil, false
	}
	callerID := middleware.CurrentUserID(ctx)
	caller := middleware.CurrentRole(ctx)
	if id != callerID && !caller.AtLeast(models.RoleAdmin) {
		utils.Error(ctx, http.StatusForbidden, 40301, "insufficient role")
		return nil, false
	}
	target, err := u.users.GetUserByID(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return nil, false
	}
	if id != callerID && !caller.AtLeast(target.Role) {
		utils.Error(ctx, http.StatusForbidden, 40303, "cannot manage an account ranked above your own")
		return nil, false
	}
	return target, true
}
