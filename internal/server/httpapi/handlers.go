package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mprihoda/geosync/internal/common"
	"github.com/mprihoda/geosync/internal/diff"
	"github.com/mprihoda/geosync/internal/logging"
	"github.com/mprihoda/geosync/internal/server/models"
	"github.com/mprihoda/geosync/internal/server/services"
)

// Handler exposes the sync engine over HTTP.
type Handler struct {
	push     *services.PushService
	projects *services.ProjectService
	logger   logging.Logger
}

func NewHandler(push *services.PushService, projects *services.ProjectService, logger logging.Logger) *Handler {
	return &Handler{push: push, projects: projects, logger: logger.With("module", "http")}
}

// Register mounts all routes on the router; everything under /v1 requires a
// valid bearer token.
func (h *Handler) Register(r *gin.Engine, secretKey []byte) {
	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1", Auth(secretKey))
	v1.POST("/projects", h.CreateProject)
	v1.GET("/projects/:project", h.GetProject)
	v1.DELETE("/projects/:project", h.DeleteProject)
	v1.POST("/projects/:project/restore", h.RestoreProject)
	v1.GET("/projects/:project/files", h.Files)
	v1.GET("/projects/:project/versions", h.Versions)
	v1.GET("/projects/:project/versions/:version", h.Version)
	v1.GET("/projects/:project/history/*path", h.FileHistory)
	v1.GET("/projects/:project/raw/:version/*path", h.Download)
	v1.POST("/projects/:project/push", h.StartPush)
	v1.POST("/projects/:project/push/:transaction/chunks/:chunk", h.UploadChunk)
	v1.POST("/projects/:project/push/:transaction/finish", h.FinishPush)
	v1.POST("/projects/:project/push/:transaction/cancel", h.CancelPush)
}

// abortWithError maps domain errors onto the response contract: conflicts
// to 409, integrity failures to 422, validation to 400.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	var corrupted *services.CorruptedFilesError
	switch {
	case errors.As(err, &corrupted):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "corrupted files", "detail": corrupted.Paths})
	case errors.Is(err, common.ErrVersionConflict),
		errors.Is(err, common.ErrAnotherUploadRunning),
		errors.Is(err, common.ErrProjectActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, diff.ErrApplyFailed),
		errors.Is(err, common.ErrStorageLimit):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrEmptyChanges),
		errors.Is(err, common.ErrInconsistentChanges),
		errors.Is(err, common.ErrChunkNotDeclared):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrChunkTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, common.ErrorUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createProjectRequest struct {
	Name      string `json:"name" binding:"required"`
	Workspace string `json:"workspace"`
}

type projectResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Workspace     string    `json:"workspace"`
	LatestVersion int64     `json:"latest_version"`
	TotalSize     int64     `json:"total_size"`
	CreatedAt     time.Time `json:"created_at"`
}

func toProjectResponse(p *models.Project) projectResponse {
	return projectResponse{
		ID:            p.ID,
		Name:          p.Name,
		Workspace:     p.WorkspaceID,
		LatestVersion: p.LatestVersion,
		TotalSize:     p.TotalSize,
		CreatedAt:     p.CreatedAt,
	}
}

func (h *Handler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}
	project, err := h.projects.Create(c.Request.Context(), req.Name, req.Workspace)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProjectResponse(project))
}

func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.projects.Get(c.Request.Context(), c.Param("project"), userID(c))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProjectResponse(project))
}

// DeleteProject soft-deletes by default; ?permanent=true runs the
// irreversible cascade, which requires the project to be removed already.
func (h *Handler) DeleteProject(c *gin.Context) {
	ctx := c.Request.Context()
	var err error
	if c.Query("permanent") == "true" {
		err = h.projects.Delete(ctx, c.Param("project"), userID(c))
	} else {
		err = h.projects.SoftDelete(ctx, c.Param("project"), userID(c))
	}
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) RestoreProject(c *gin.Context) {
	if err := h.projects.Restore(c.Request.Context(), c.Param("project"), userID(c)); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type fileResponse struct {
	Path     string            `json:"path"`
	Size     int64             `json:"size"`
	Checksum string            `json:"checksum"`
	Version  int64             `json:"version"`
	Change   models.ChangeKind `json:"change"`
	Diff     *models.DiffMeta  `json:"diff,omitempty"`
}

func toFileResponses(rows []*models.FileChange) []fileResponse {
	out := make([]fileResponse, len(rows))
	for i, r := range rows {
		out[i] = fileResponse{
			Path:     r.Path,
			Size:     r.Size,
			Checksum: r.Checksum,
			Version:  r.Version,
			Change:   r.Change,
			Diff:     r.Diff,
		}
	}
	return out
}

func (h *Handler) Files(c *gin.Context) {
	version, ok := h.parseVersionQuery(c)
	if !ok {
		return
	}
	files, err := h.projects.Files(c.Request.Context(), c.Param("project"), userID(c), version)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": toFileResponses(files)})
}

type versionResponse struct {
	Name        int64          `json:"name"`
	Author      string         `json:"author"`
	CreatedAt   time.Time      `json:"created_at"`
	ProjectSize int64          `json:"project_size"`
	Changes     []fileResponse `json:"changes,omitempty"`
}

func toVersionResponse(v *models.ProjectVersion) versionResponse {
	return versionResponse{
		Name:        v.Name,
		Author:      v.Author,
		CreatedAt:   v.CreatedAt,
		ProjectSize: v.ProjectSize,
		Changes:     toFileResponses(v.Changes),
	}
}

func (h *Handler) Versions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	versions, err := h.projects.Versions(c.Request.Context(), c.Param("project"), userID(c), perPage, (page-1)*perPage)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	out := make([]versionResponse, len(versions))
	for i, v := range versions {
		out[i] = toVersionResponse(v)
	}
	c.JSON(http.StatusOK, gin.H{"versions": out, "page": page, "per_page": perPage})
}

func (h *Handler) Version(c *gin.Context) {
	name, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return
	}
	v, err := h.projects.Version(c.Request.Context(), c.Param("project"), userID(c), name)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionResponse(v))
}

func (h *Handler) FileHistory(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	rows, err := h.projects.FileHistory(c.Request.Context(), c.Param("project"), userID(c), path)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "history": toFileResponses(rows)})
}

// Download streams file content at a version, reconstructing pruned copies
// on demand.
func (h *Handler) Download(c *gin.Context) {
	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return
	}
	path := strings.TrimPrefix(c.Param("path"), "/")

	rc, state, err := h.projects.Download(c.Request.Context(), c.Param("project"), userID(c), path, version)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+state.Path+`"`)
	c.Header("X-Checksum", state.Checksum)
	c.DataFromReader(http.StatusOK, state.Size, "application/octet-stream", rc, nil)
}

type startPushRequest struct {
	Version int64          `json:"version"`
	Changes models.Changes `json:"changes"`
}

func (h *Handler) StartPush(c *gin.Context) {
	var req startPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}
	upload, err := h.push.Start(c.Request.Context(), c.Param("project"), req.Version, req.Changes, userID(c))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": upload.ID, "version": upload.Version})
}

func (h *Handler) UploadChunk(c *gin.Context) {
	res, err := h.push.Chunk(c.Request.Context(), c.Param("transaction"), c.Param("chunk"), c.Request.Body, userID(c))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) FinishPush(c *gin.Context) {
	v, err := h.push.Finish(c.Request.Context(), c.Param("transaction"), userID(c))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVersionResponse(v))
}

func (h *Handler) CancelPush(c *gin.Context) {
	if err := h.push.Cancel(c.Request.Context(), c.Param("transaction"), userID(c)); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) parseVersionQuery(c *gin.Context) (int64, bool) {
	raw := c.DefaultQuery("version", "0")
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return 0, false
	}
	return version, true
}
