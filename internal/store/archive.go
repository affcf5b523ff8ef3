package store

import (
	"context"

	"gorm.io/gorm"

	"comic-studio/backend/internal/models"
)

const defaultHistoryLimit = 20

// ComicArchive stores generated comics in Postgres
type ComicArchive struct {
	db *gorm.DB
}

func NewComicArchive(db *gorm.DB) *ComicArchive {
	return &ComicArchive{db: db}
}

// Migrate creates or updates the archive table
func (a *ComicArchive) Migrate() error {
	return a.db.AutoMigrate(&models.ComicRecord{})
}

func (a *ComicArchive) SaveComic(ctx context.Context, record *models.ComicRecord) error {
	return a.db.WithContext(ctx).Create(record).Error
}

// ListComics returns a session's comics, newest first
func (a *ComicArchive) ListComics(ctx context.Context, sessionID string, limit int) ([]models.ComicRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var records []models.ComicRecord
	err := a.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (a *ComicArchive) GetComic(ctx context.Context, id uint) (*models.ComicRecord, error) {
	var record models.ComicRecord
	if err := a.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// Ping checks the database connection
func (a *ComicArchive) Ping(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
