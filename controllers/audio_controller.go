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

// multipartOverhead leaves room for the form fields around the file part.
const multipartOverhead = 1 << 20

// AudioController handles uploads, listings and deletes of audio files.
type AudioController struct {
	audio          *services.AudioService
	maxUploadBytes int64
}

// NewAudioController creates an AudioController. maxUploadBytes <= 0 disables the request cap.
func NewAudioController(audio *services.AudioService, maxUploadBytes int64) *AudioController {
	return &AudioController{audio: audio, maxUploadBytes: maxUploadBytes}
}

// Upload stores a multipart file for the caller. Admins may upload on behalf of
// another account with owner_id.
func (a *AudioController) Upload(ctx *gin.Context) {
	if a.maxUploadBytes > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, a.maxUploadBytes+multipartOverhead)
	}

	ownerID := middleware.CurrentUserID(ctx)
	if v := strings.TrimSpace(ctx.PostForm("owner_id")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			utils.Error(ctx, http.StatusUnprocessableEntity, 42203, "invalid owner_id")
			return
		}
		if uint(n) != ownerID && !middleware.CurrentRole(ctx).AtLeast(models.RoleAdmin) {
			utils.Error(ctx, http.StatusForbidden, 40301, "insufficient role")
			return
		}
		ownerID = uint(n)
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		utils.Error(ctx, http.StatusUnprocessableEntity, 42206, "file is required")
		return
	}
	if a.maxUploadBytes > 0 && fh.Size > a.maxUploadBytes {
		utils.Error(ctx, http.StatusUnprocessableEntity, 42207, "file exceeds the upload size limit")
		return
	}
	f, err := fh.Open()
	if err != nil {
		utils.Error(ctx, http.StatusUnprocessableEntity, 42206, "file is required")
		return
	}
	defer f.Close()

	filename := strings.TrimSpace(ctx.PostForm("filename"))
	if filename == "" {
		filename = fh.Filename
	}
	record, err := a.audio.Upload(ctx.Request.Context(), services.UploadInput{
		OwnerID:      ownerID,
		Filename:     filename,
		Description:  ctx.PostForm("description"),
		OriginalName: fh.Filename,
		Body:         f,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Created(ctx, record)
}

// ListByOwner returns the files of user :id. Users see their own files, admins anyone's.
func (a *AudioController) ListByOwner(ctx *gin.Context) {
	ownerID, ok := uintParam(ctx, "id")
	if !ok {
		return
	}
	if ownerID != middleware.CurrentUserID(ctx) && !middleware.CurrentRole(ctx).AtLeast(models.RoleAdmin) {
		utils.Error(ctx, http.StatusForbidden, 40301, "insufficient role")
		return
	}
	files, err := a.audio.ListByOwner(ctx.Request.Context(), ownerID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": files, "total": len(files)})
}

// ListAll returns every stored file; admins only.
func (a *AudioController) ListAll(ctx *gin.Context) {
	files, err := a.audio.ListAll(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": files, "total": len(files)})
}

// Delete removes a file. Only its owner or a superuser may do so.
func (a *AudioController) Delete(ctx *gin.Context) {
	id, ok := uintParam(ctx, "id")
	if !ok {
		return
	}
	file, err := a.audio.GetByID(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}
	if file.OwnerID != middleware.CurrentUserID(ctx) && !middleware.CurrentRole(ctx).AtLeast(models.RoleSuperuser) {
		utils.Error(ctx, http.StatusForbidden, 40301, "insufficient role")
		return
	}
	if err := a.audio.DeleteByID(ctx.Request.Context(), id); err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"id": id})
}
