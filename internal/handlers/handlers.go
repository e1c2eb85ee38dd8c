package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/faces-api/internal/detector"
	"github.com/example/faces-api/internal/repository"
	"github.com/example/faces-api/internal/usecase"
)

// MaxUploadSize is the default cap on an upload request body.
const MaxUploadSize = 10 << 20

// Options controls how records are exposed over HTTP.
type Options struct {
	// MediaURL prefixes stored image keys in responses. A path such as "/media/" is also served by this router.
	MediaURL       string
	MaxUploadBytes int64
}

type faceHandler struct {
	uc     *usecase.FaceUseCase
	logger *zap.Logger
	opts   Options
}

type faceResponse struct {
	ID         string          `json:"id"`
	ImageFile  string          `json:"image_file"`
	FaceTokens []detector.Face `json:"face_tokens"`
}

type renderQuery struct {
	Color           string   `form:"color" binding:"required"`
	FaceTokens      []string `form:"face_tokens"`
	FaceTokensAlias []string `form:"faceTokens"`
}

type comparisonRequest struct {
	FaceToken1 string `json:"face_token1" form:"face_token1" binding:"required"`
	FaceToken2 string `json:"face_token2" form:"face_token2" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.FaceUseCase, logger *zap.Logger, opts Options) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	if opts.MediaURL == "" {
		opts.MediaURL = "/media/"
	}
	h := &faceHandler{uc: uc, logger: logger.Named("handlers"), opts: opts}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if strings.HasPrefix(opts.MediaURL, "/") {
		router.GET(strings.TrimRight(opts.MediaURL, "/")+"/*key", h.media)
	}

	api := router.Group("/api/v1")
	api.POST("/faces", h.create)
	api.GET("/faces", h.list)
	api.POST("/faces/comparison-faces", h.compare)
	api.GET("/faces/:id", h.retrieve)
	api.DELETE("/faces/:id", h.destroy)
}

func (h *faceHandler) create(c *gin.Context) {
	if c.Request.ContentLength > h.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image file is too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr), errors.Is(err, multipart.ErrMessageTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image file is too large"})
		case errors.Is(err, http.ErrMissingFile):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided", "field": "image"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		}
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	record, err := h.uc.Create(c.Request.Context(), usecase.Upload{Filename: file.Filename, Data: data})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.serialize(c, record))
}

func (h *faceHandler) list(c *gin.Context) {
	records, err := h.uc.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]faceResponse, 0, len(records))
	for _, r := range records {
		out = append(out, h.serialize(c, r))
	}
	c.JSON(http.StatusOK, out)
}

func (h *faceHandler) retrieve(c *gin.Context) {
	var query renderQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, bindingError(err))
		return
	}

	tokens := append(query.FaceTokens, query.FaceTokensAlias...)
	jpeg, err := h.uc.Render(c.Request.Context(), c.Param("id"), usecase.RenderQuery{
		Color:      query.Color,
		FaceTokens: tokens,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}

func (h *faceHandler) destroy(c *gin.Context) {
	if err := h.uc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *faceHandler) compare(c *gin.Context) {
	var req comparisonRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindingError(err))
		return
	}

	confidence, err := h.uc.Compare(c.Request.Context(), req.FaceToken1, req.FaceToken2)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"confidence": confidence})
}

func (h *faceHandler) media(c *gin.Context) {
	rc, contentType, err := h.uc.OpenMedia(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

func (h *faceHandler) serialize(c *gin.Context, record *repository.FaceRecord) faceResponse {
	tokens := record.FaceTokens
	if tokens == nil {
		tokens = []detector.Face{}
	}
	return faceResponse{
		ID:         record.ID,
		ImageFile:  h.mediaURL(c, record.ImageFile),
		FaceTokens: tokens,
	}
}

// mediaURL builds an absolute URL for a stored key, using the request host when MediaURL is a path.
func (h *faceHandler) mediaURL(c *gin.Context, key string) string {
	base := strings.TrimRight(h.opts.MediaURL, "/") + "/" + strings.TrimLeft(key, "/")
	if !strings.HasPrefix(base, "/") {
		return base
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + base
}

func (h *faceHandler) writeError(c *gin.Context, err error) {
	var (
		validationErr *usecase.ValidationError
		externalErr   *detector.ExternalServiceError
	)
	switch {
	case errors.As(err, &validationErr):
		body := gin.H{"error": validationErr.Message}
		if validationErr.Field != "" {
			body["field"] = validationErr.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found."})
	case errors.As(err, &externalErr):
		h.logger.Error("face provider request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "face provider request failed"})
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
