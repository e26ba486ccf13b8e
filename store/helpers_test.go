package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		sqlDB.Close()
	})
	return db, mock
}

// sqlPattern quotes s for sqlmock; STAGE matches any staging table name.
func sqlPattern(table, s string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(s), "STAGE", table+"_stage_[0-9a-f]{8}")
}

var paperColumns = []string{
	"arxiv_id", "title", "abstract", "published_ts", "twitter_likes", "twitter_retweets",
	"twitter_replies", "twitter_quotes", "twitter_impressions", "hnews_points", "hnews_num_comments",
	"embedding", "text_search_vector",
}

func newTestEngine(db *gorm.DB, batch int) *Engine {
	return NewEngine(db, NewCatalog(db), zap.NewNop(), batch)
}
