package handler

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appErrors "github.com/edustack/campus-api/pkg/errors"
	"github.com/edustack/campus-api/pkg/response"
	"github.com/edustack/campus-api/pkg/storage"
)

// UploadConfig tunes upload validation.
type UploadConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// UploadHandler stores payment proofs and submission attachments, returning
// a relative reference plus a signed download token.
type UploadHandler struct {
	storage *storage.LocalStorage
	signer  *storage.SignedURLSigner
	cfg     UploadConfig
}

// NewUploadHandler constructs UploadHandler.
func NewUploadHandler(store *storage.LocalStorage, signer *storage.SignedURLSigner, cfg UploadConfig) *UploadHandler {
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 10 << 20
	}
	return &UploadHandler{storage: store, signer: signer, cfg: cfg}
}

// Upload godoc
// @Summary Upload a file
// @Description Store a payment proof or submission attachment
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File to upload"
// @Param kind formData string false "proof or attachment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /uploads [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	if fileHeader.Size > h.cfg.MaxFileSizeBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file exceeds maximum size"))
		return
	}
	if !h.mimeAllowed(fileHeader.Header.Get("Content-Type")) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file type not allowed"))
		return
	}

	kind := c.DefaultPostForm("kind", "attachment")
	if kind != "proof" && kind != "attachment" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "kind must be proof or attachment"))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to read upload"))
		return
	}
	defer src.Close()

	ext := filepath.Ext(fileHeader.Filename)
	filename := fmt.Sprintf("%ss/%s-%d%s", kind, uuid.NewString(), time.Now().UTC().Unix(), ext)
	relPath, err := h.save(filename, src)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to store upload"))
		return
	}

	token, expiresAt, err := h.signer.Generate(claims.UserID, relPath)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, "failed to sign download token"))
		return
	}

	response.Created(c, gin.H{
		"ref":        relPath,
		"token":      token,
		"expires_at": expiresAt,
	})
}

// Download godoc
// @Summary Download a stored file by signed token
// @Tags Uploads
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /uploads/{token} [get]
func (h *UploadHandler) Download(c *gin.Context) {
	_, relPath, _, err := h.signer.Parse(c.Param("token"), false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token"))
		return
	}
	file, err := h.storage.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
		return
	}
	defer file.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(relPath)))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}

func (h *UploadHandler) save(filename string, r io.Reader) (string, error) {
	return h.storage.SaveStream(filename, r)
}

func (h *UploadHandler) mimeAllowed(contentType string) bool {
	if len(h.cfg.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedMIMEs {
		if strings.EqualFold(strings.TrimSpace(allowed), contentType) {
			return true
		}
	}
	return false
}
