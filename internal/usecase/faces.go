package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faces-api/internal/detector"
	"github.com/example/faces-api/internal/logging"
	"github.com/example/faces-api/internal/render"
	"github.com/example/faces-api/internal/repository"
	"github.com/example/faces-api/internal/retry"
	"github.com/example/faces-api/internal/storage"
)

// DefaultCacheTTL is how long a face record stays in the cache.
const DefaultCacheTTL = 5 * time.Minute

// AllowedExtensions lists the accepted upload file extensions.
var AllowedExtensions = []string{"jpg", "jpeg", "png"}

var allowedMIME = []string{"image/jpeg", "image/png"}

// FaceRepository defines the persistence operations needed by the use case.
type FaceRepository interface {
	Create(ctx context.Context, record *repository.FaceRecord) error
	Get(ctx context.Context, id string) (*repository.FaceRecord, error)
	List(ctx context.Context) ([]*repository.FaceRecord, error)
	Delete(ctx context.Context, id string) error
}

// FaceUseCase encapsulates the face record lifecycle: upload and detect, list, render, delete and compare.
type FaceUseCase struct {
	repo     FaceRepository
	store    storage.Store
	detector detector.Client
	cache    Cache
	logger   *zap.Logger
	cacheTTL time.Duration
	retry    retry.Policy
}

// Upload is an image file received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

// RenderQuery selects which faces to outline and in which colour.
type RenderQuery struct {
	Color      string
	FaceTokens []string
}

type cachedFace struct {
	ID         string          `json:"id"`
	ImageFile  string          `json:"image_file"`
	FaceTokens []detector.Face `json:"face_tokens"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewFaceUseCase constructs a new use case instance. A zero cacheTTL selects DefaultCacheTTL.
func NewFaceUseCase(repo FaceRepository, store storage.Store, client detector.Client, cache Cache, cacheTTL time.Duration, logger *zap.Logger) *FaceUseCase {
	if cache == nil {
		cache = NopCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &FaceUseCase{
		repo:     repo,
		store:    store,
		detector: client,
		cache:    cache,
		logger:   logger.Named("face_usecase"),
		cacheTTL: cacheTTL,
		retry:    retry.DefaultPolicy,
	}
}

// ValidateImage checks the file extension and the sniffed content type and returns the content type.
func ValidateImage(upload Upload) (string, error) {
	if upload.Filename == "" && len(upload.Data) == 0 {
		return "", invalid("image", "No image provided")
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(upload.Filename)), ".")
	allowed := false
	for _, a := range AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", invalid("image", fmt.Sprintf("File extension %q is not allowed. Allowed extensions are: %s.", ext, strings.Join(AllowedExtensions, ", ")))
	}
	if len(upload.Data) == 0 {
		return "", invalid("image", "The submitted file is empty.")
	}
	detected := mimetype.Detect(upload.Data)
	if !mimetype.EqualsAny(detected.String(), allowedMIME...) {
		return "", invalid("image", "Upload a valid image. The file you uploaded was either not an image or a corrupted image.")
	}
	return detected.String(), nil
}

// Create validates the upload, detects faces through the provider and persists the record.
// Nothing is stored when any step fails.
func (uc *FaceUseCase) Create(ctx context.Context, upload Upload) (*repository.FaceRecord, error) {
	contentType, err := ValidateImage(upload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.create", id)

	faces, err := uc.detector.DetectFaces(ctx, filepath.Base(upload.Filename), upload.Data)
	if err != nil {
		opLogger.Error("face detection failed", zap.Error(err))
		return nil, err
	}

	ext := ".jpg"
	if contentType == "image/png" {
		ext = ".png"
	}
	key := "faces/" + id + ext
	if _, err := uc.store.Save(ctx, key, bytes.NewReader(upload.Data), contentType); err != nil {
		wrapped := logging.NewOperationError("usecase.store_image", id, err)
		opLogger.Error("failed to store image", zap.Error(wrapped))
		return nil, wrapped
	}

	record := &repository.FaceRecord{
		ID:         id,
		ImageFile:  key,
		FaceTokens: faces,
		CreatedAt:  time.Now().UTC(),
	}
	if err := uc.repo.Create(ctx, record); err != nil {
		opLogger.Error("failed to persist face record", zap.Error(err))
		if delErr := uc.store.Delete(ctx, key); delErr != nil {
			opLogger.Warn("failed to remove orphaned image", zap.Error(delErr), zap.String("key", key))
		}
		return nil, err
	}

	uc.cacheRecord(ctx, record)
	opLogger.Info("face record created", zap.Int("faces", len(faces)))
	return record, nil
}

// List returns every stored record.
func (uc *FaceUseCase) List(ctx context.Context) ([]*repository.FaceRecord, error) {
	return uc.repo.List(ctx)
}

// Get retrieves a cached face record or loads it from persistence.
func (uc *FaceUseCase) Get(ctx context.Context, id string) (*repository.FaceRecord, error) {
	if cached, err := uc.cacheGet(ctx, id); err == nil {
		var payload cachedFace
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get", id).Warn("failed to decode cached record", zap.Error(err))
		} else {
			return &repository.FaceRecord{
				ID:         payload.ID,
				ImageFile:  payload.ImageFile,
				FaceTokens: payload.FaceTokens,
				CreatedAt:  payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get", id).Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrFaceNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	uc.cacheRecord(ctx, record)
	return record, nil
}

// Render draws the selected faces of record id onto its image and returns a JPEG.
// With no face tokens every stored face is drawn.
func (uc *FaceUseCase) Render(ctx context.Context, id string, query RenderQuery) ([]byte, error) {
	if strings.TrimSpace(query.Color) == "" {
		return nil, invalid("color", "This field is required.")
	}
	outline, err := render.ParseColor(query.Color)
	if err != nil {
		return nil, invalid("color", err.Error())
	}

	record, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	src, err := uc.store.Open(ctx, record.ImageFile)
	if err != nil {
		return nil, logging.NewOperationError("usecase.open_image", id, err)
	}
	defer src.Close()

	out := &bytes.Buffer{}
	drawn, err := render.Render(out, src, record.FaceTokens, query.FaceTokens, outline)
	if err != nil {
		return nil, logging.NewOperationError("usecase.render", id, err)
	}
	logging.WithOperation(uc.logger, "usecase.render", id).Debug("faces rendered", zap.Int("rectangles", drawn))
	return out.Bytes(), nil
}

// Delete removes the record, its image and its cache entry.
func (uc *FaceUseCase) Delete(ctx context.Context, id string) error {
	opLogger := logging.WithOperation(uc.logger, "usecase.delete", id)

	record, err := uc.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrFaceNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := uc.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrFaceNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := uc.store.Delete(ctx, record.ImageFile); err != nil && !errors.Is(err, storage.ErrNotExist) {
		opLogger.Warn("failed to delete image", zap.Error(err), zap.String("key", record.ImageFile))
	}
	if err := retry.Do(ctx, uc.retry, uc.logger, "cache.del", id, func() error {
		return uc.cache.Del(ctx, cacheKey(id))
	}); err != nil {
		opLogger.Warn("failed to evict cached record", zap.Error(err))
	}
	opLogger.Info("face record deleted")
	return nil
}

// Compare asks the provider how similar two faces are and returns its confidence.
func (uc *FaceUseCase) Compare(ctx context.Context, faceToken1, faceToken2 string) (float64, error) {
	if strings.TrimSpace(faceToken1) == "" {
		return 0, invalid("face_token1", "This field is required.")
	}
	if strings.TrimSpace(faceToken2) == "" {
		return 0, invalid("face_token2", "This field is required.")
	}

	result, err := uc.detector.CompareFaces(ctx, faceToken1, faceToken2)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.compare", "").Error("face comparison failed", zap.Error(err))
		return 0, err
	}

	confidence, ok := result.Confidence()
	if !ok {
		return 0, invalid("confidence", "A valid number is required.")
	}
	return confidence, nil
}

// OpenMedia streams a stored image by its storage key.
func (uc *FaceUseCase) OpenMedia(ctx context.Context, key string) (io.ReadCloser, string, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return nil, "", ErrNotFound
	}
	rc, err := uc.store.Open(ctx, cleaned)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", logging.NewOperationError("usecase.open_media", "", err)
	}
	return rc, storage.ContentType(cleaned), nil
}

func cacheKey(id string) string {
	return fmt.Sprintf("face:%s", id)
}

func (uc *FaceUseCase) cacheGet(ctx context.Context, id string) (string, error) {
	var result string
	err := retry.Do(ctx, uc.retry, uc.logger, "cache.get", id, func() error {
		value, err := uc.cache.Get(ctx, cacheKey(id))
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (uc *FaceUseCase) cacheRecord(ctx context.Context, record *repository.FaceRecord) {
	serialized, err := json.Marshal(cachedFace{
		ID:         record.ID,
		ImageFile:  record.ImageFile,
		FaceTokens: record.FaceTokens,
		CreatedAt:  record.CreatedAt,
	})
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set", record.ID).Warn("failed to serialize record", zap.Error(err))
		return
	}
	if err := retry.Do(ctx, uc.retry, uc.logger, "cache.set", record.ID, func() error {
		return uc.cache.Set(ctx, cacheKey(record.ID), string(serialized), uc.cacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set", record.ID).Warn("failed to cache record", zap.Error(err))
	}
}
