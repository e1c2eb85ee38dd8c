package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faces-api/internal/detector"
	"github.com/example/faces-api/internal/logging"
	"github.com/example/faces-api/internal/retry"
)

// ErrFaceNotFound is returned when no record has the requested id.
var ErrFaceNotFound = errors.New("face record not found")

// FaceRecord is an uploaded image together with the faces the provider detected in it.
type FaceRecord struct {
	ID         string          `gorm:"primaryKey;size:36"`
	ImageFile  string          `gorm:"column:image_file;size:255;not null"`
	FaceTokens []detector.Face `gorm:"column:face_tokens;serializer:json"`
	CreatedAt  time.Time       `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (FaceRecord) TableName() string {
	return "faces"
}

// FaceRepository provides persistence APIs for face records.
type FaceRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewFaceRepository creates a new repository instance.
func NewFaceRepository(db *gorm.DB, logger *zap.Logger) *FaceRepository {
	return &FaceRepository{
		db:     db,
		logger: logger.Named("face_repository"),
		retry:  retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *FaceRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&FaceRecord{})
}

// Create inserts a new record. Inserts are not retried.
func (r *FaceRepository) Create(ctx context.Context, record *FaceRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return logging.NewOperationError("repository.create", record.ID, err)
	}
	return nil
}

// Get loads one record by id.
func (r *FaceRepository) Get(ctx context.Context, id string) (*FaceRecord, error) {
	var record FaceRecord
	err := retry.Do(ctx, r.retry, r.logger, "repository.get", id, func() error {
		return r.db.WithContext(ctx).Take(&record, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns every record, oldest first.
func (r *FaceRepository) List(ctx context.Context) ([]*FaceRecord, error) {
	var records []*FaceRecord
	err := retry.Do(ctx, r.retry, r.logger, "repository.list", "", func() error {
		records = records[:0]
		return r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a record by id and reports ErrFaceNotFound when nothing was deleted.
func (r *FaceRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&FaceRecord{}, "id = ?", id)
	if result.Error != nil {
		return logging.NewOperationError("repository.delete", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFaceNotFound
	}
	return nil
}
