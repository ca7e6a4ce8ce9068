package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"oauthstarter/internal/user"
)

//go:embed templates/*.html
var templateFS embed.FS

// Avatar upload limits
const (
	MaxFilenameLength = 255
	AvatarURLTTL      = 15 * time.Minute
)

var allowedAvatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ProjectLister lists the projects of a workspace.
type ProjectLister interface {
	ListProjects(ctx context.Context, workspaceID string) ([]user.Project, error)
}

// AvatarStorage issues presigned avatar URLs.
type AvatarStorage interface {
	GeneratePresignedUploadURL(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error)
	GeneratePresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// HealthCheck reports the state of one dependency. The "status" entry is
// "up" or "down".
type HealthCheck func(ctx context.Context) map[string]string

// ErrorCheck adapts an error-returning probe to a HealthCheck.
func ErrorCheck(probe func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) map[string]string {
		if err := probe(ctx); err != nil {
			return map[string]string{"status": "down", "error": err.Error()}
		}
		return map[string]string{"status": "up"}
	}
}

// Handler serves the application routes
type Handler struct {
	projects    ProjectLister
	avatars     AvatarStorage
	checks      map[string]HealthCheck
	signInPage  string
	signOutPage string
	logger      *slog.Logger
}

// HandlerConfig wires a Handler. Avatars may be nil when object storage is
// not configured.
type HandlerConfig struct {
	Projects    ProjectLister
	Avatars     AvatarStorage
	Checks      map[string]HealthCheck
	SignInPage  string
	SignOutPage string
	Logger      *slog.Logger
}

// NewHandler creates a new Handler
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		projects:    cfg.Projects,
		avatars:     cfg.Avatars,
		checks:      cfg.Checks,
		signInPage:  cfg.SignInPage,
		signOutPage: cfg.SignOutPage,
		logger:      cfg.Logger,
	}
}

func loadTemplates() *template.Template {
	return template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))
}

type pageData struct {
	Title      string
	User       *user.User
	SignInURL  string
	SignOutURL string
}

func (h *Handler) page(c *gin.Context, title string) pageData {
	return pageData{
		Title:      title,
		User:       CurrentUser(c),
		SignInURL:  SignInURL(h.signInPage, c.Request.URL.Path),
		SignOutURL: h.signOutPage,
	}
}

// Home handles GET /
func (h *Handler) Home(c *gin.Context) {
	c.HTML(http.StatusOK, "home.html", h.page(c, "OAuth Starter"))
}

// Protected handles GET /protected
func (h *Handler) Protected(c *gin.Context) {
	c.HTML(http.StatusOK, "protected.html", h.page(c, "Protected"))
}

// Profile handles GET /user/profile
func (h *Handler) Profile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user":    CurrentUser(c),
		"session": CurrentSession(c),
	})
}

// WorkspaceView is a workspace with its projects.
type WorkspaceView struct {
	user.Workspace
	Projects []user.Project `json:"projects"`
}

// Workspaces handles GET /user/workspaces
func (h *Handler) Workspaces(c *gin.Context) {
	u := CurrentUser(c)

	out := make([]WorkspaceView, 0, len(u.OwnedWorkspaces))
	for _, ws := range u.OwnedWorkspaces {
		projects, err := h.projects.ListProjects(c.Request.Context(), ws.ID)
		if err != nil {
			h.logger.ErrorContext(c.Request.Context(), "Failed to list projects",
				"workspace_id", ws.ID,
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load workspaces"})
			return
		}
		out = append(out, WorkspaceView{Workspace: ws, Projects: projects})
	}

	c.JSON(http.StatusOK, gin.H{"workspaces": out})
}

// AvatarUploadRequest is the body of POST /user/avatar/upload-url
type AvatarUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// AvatarUploadResponse carries the presigned URLs for an avatar upload
type AvatarUploadResponse struct {
	UploadURL   string `json:"upload_url"`
	DownloadURL string `json:"download_url"`
	FileKey     string `json:"file_key"`
	ExpiresAt   int64  `json:"expires_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AvatarUploadURL handles POST /user/avatar/upload-url
func (h *Handler) AvatarUploadURL(c *gin.Context) {
	if h.avatars == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Storage service is not available",
			Code:  "STORAGE_UNAVAILABLE",
		})
		return
	}

	var req AvatarUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}
	if err := validateFilename(req.Filename); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid filename",
			Code:    "INVALID_FILENAME",
			Details: err.Error(),
		})
		return
	}
	if !allowedAvatarTypes[req.ContentType] {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid content type",
			Code:    "INVALID_CONTENT_TYPE",
			Details: fmt.Sprintf("content type %s is not allowed", req.ContentType),
		})
		return
	}

	ctx := c.Request.Context()
	key := fmt.Sprintf("avatars/%s/%s%s", CurrentUser(c).ID, uuid.NewString(), strings.ToLower(filepath.Ext(req.Filename)))

	uploadURL, err := h.avatars.GeneratePresignedUploadURL(ctx, key, req.ContentType, AvatarURLTTL)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to presign avatar upload", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to generate upload URL"})
		return
	}
	downloadURL, err := h.avatars.GeneratePresignedDownloadURL(ctx, key, AvatarURLTTL)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to presign avatar download", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to generate download URL"})
		return
	}

	c.JSON(http.StatusOK, AvatarUploadResponse{
		UploadURL:   uploadURL,
		DownloadURL: downloadURL,
		FileKey:     key,
		ExpiresAt:   time.Now().Add(AvatarURLTTL).Unix(),
	})
}

// validateFilename checks if filename is safe and valid
func validateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if len(filename) > MaxFilenameLength {
		return fmt.Errorf("filename too long (max %d characters)", MaxFilenameLength)
	}
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("filename contains invalid characters")
	}
	if filepath.Ext(filename) == "" {
		return fmt.Errorf("filename must have an extension")
	}
	return nil
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	response := gin.H{"status": "up"}

	for name, check := range h.checks {
		result := check(c.Request.Context())
		if result["status"] != "up" {
			status = http.StatusServiceUnavailable
			response["status"] = "degraded"
		}
		response[name] = result
	}

	c.JSON(status, response)
}
