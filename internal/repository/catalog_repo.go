package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// CatalogRepository reads the content catalog. Tests and paragraphs are owned elsewhere and never written here.
type CatalogRepository interface {
	GetTest(ctx context.Context, id uint) (models.Test, error)
	GetParagraph(ctx context.Context, id uint) (models.Paragraph, error)
	GetChapter(ctx context.Context, id uint) (models.Chapter, error)
	CountParagraphs(ctx context.Context, chapterID uint) (int64, error)
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository constructs the catalog reader.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetTest(ctx context.Context, id uint) (models.Test, error) {
	var test models.Test
	err := conn(ctx, r.db).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		First(&test, id).Error
	if err != nil {
		return models.Test{}, err
	}
	return test, nil
}

func (r *catalogRepository) GetParagraph(ctx context.Context, id uint) (models.Paragraph, error) {
	var paragraph models.Paragraph
	if err := conn(ctx, r.db).First(&paragraph, id).Error; err != nil {
		return models.Paragraph{}, err
	}
	return paragraph, nil
}

func (r *catalogRepository) GetChapter(ctx context.Context, id uint) (models.Chapter, error) {
	var chapter models.Chapter
	if err := conn(ctx, r.db).First(&chapter, id).Error; err != nil {
		return models.Chapter{}, err
	}
	return chapter, nil
}

func (r *catalogRepository) CountParagraphs(ctx context.Context, chapterID uint) (int64, error) {
	var total int64
	err := conn(ctx, r.db).Model(&models.Paragraph{}).Where("chapter_id = ?", chapterID).Count(&total).Error
	return total, err
}
