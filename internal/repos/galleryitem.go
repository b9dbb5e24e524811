package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aidea-studio/aidea-backend/internal/domain"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
)

type GalleryItemRepo interface {
	Create(ctx context.Context, tx *gorm.DB, item *domain.GalleryItem) error
	GetByAssetID(ctx context.Context, tx *gorm.DB, assetID string) (*domain.GalleryItem, error)
	ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*domain.GalleryItem, error)
}

type galleryItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGalleryItemRepo(db *gorm.DB, baseLog *logger.Logger) GalleryItemRepo {
	return &galleryItemRepo{db: db, log: baseLog.With("repo", "GalleryItemRepo")}
}

func (gr *galleryItemRepo) Create(ctx context.Context, tx *gorm.DB, item *domain.GalleryItem) error {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	return transaction.WithContext(ctx).Create(item).Error
}

func (gr *galleryItemRepo) GetByAssetID(ctx context.Context, tx *gorm.DB, assetID string) (*domain.GalleryItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	var item domain.GalleryItem
	if err := transaction.WithContext(ctx).
		Where("asset_id = ?", assetID).
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (gr *galleryItemRepo) ListByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*domain.GalleryItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if limit <= 0 {
		limit = 100
	}
	var items []*domain.GalleryItem
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
