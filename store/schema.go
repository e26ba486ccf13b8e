package store

import (
	"context"
	"fmt"

	"arxiv-hype/models"

	"gorm.io/gorm"
)

// EnsureSchema legt Tabellen, Vektor-Spalte, Volltext-Spalte und Indizes an.
// Mehrfaches Ausführen ist unkritisch.
func EnsureSchema(ctx context.Context, db *gorm.DB, embeddingDim int) error {
	if embeddingDim <= 0 {
		return validationErrorf("embedding dimension must be positive, got %d", embeddingDim)
	}
	db = db.WithContext(ctx)

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create extension vector: %w", Classify(err))
	}
	err := db.AutoMigrate(
		&models.Paper{},
		&models.Author{},
		&models.Category{},
		&models.Tweet{},
		&models.PaperTweet{},
		&models.HNewsPost{},
		&models.PaperHNews{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", Classify(err))
	}

	stmts := []string{
		fmt.Sprintf("ALTER TABLE arxiv ADD COLUMN IF NOT EXISTS embedding vector(%d)", embeddingDim),
		"ALTER TABLE arxiv ADD COLUMN IF NOT EXISTS text_search_vector tsvector GENERATED ALWAYS AS " +
			"(to_tsvector('english', coalesce(title, '') || ' ' || coalesce(abstract, ''))) STORED",
		"CREATE INDEX IF NOT EXISTS idx_arxiv_text_search ON arxiv USING GIN (text_search_vector)",
		"CREATE INDEX IF NOT EXISTS idx_arxiv_embedding ON arxiv USING hnsw (embedding vector_cosine_ops)",
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return fmt.Errorf("ensure schema: %w", Classify(err))
		}
	}
	return nil
}
