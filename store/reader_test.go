package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestGetPapersRejectsConflictingFlags(t *testing.T) {
	r, _ := newTestReader(t)
	_, err := r.GetPapers(context.Background(), PaperFilter{IDsOnly: true, IncludeEmbeddings: true})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	_, err = r.GetPapers(context.Background(), PaperFilter{RequiredNull: []string{"arxiv_id; DROP TABLE arxiv"}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestGetPapersIncomplete(t *testing.T) {
	r, mock := newTestReader(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "arxiv_id" FROM "arxiv" WHERE title IS NULL ORDER BY arxiv_id`)).
		WillReturnRows(sqlmock.NewRows([]string{"arxiv_id"}).AddRow("2401.00001").AddRow("2401.00002"))

	papers, err := r.GetPapers(context.Background(), PaperFilter{IDsOnly: true, RequiredNull: []string{"title"}})
	if err != nil {
		t.Fatalf("GetPapers: %v", err)
	}
	if len(papers) != 2 || papers[1].ArxivID != "2401.00002" || papers[0].Title != "" {
		t.Fatalf("papers: %+v", papers)
	}
}

func TestGetMentionIDs(t *testing.T) {
	r, mock := newTestReader(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "hnews_id" FROM "arxiv_hnews" WHERE arxiv_id = $1 ORDER BY hnews_id`)).
		WithArgs("2401.00001").
		WillReturnRows(sqlmock.NewRows([]string{"hnews_id"}).AddRow("100").AddRow("101"))

	ids, err := r.GetMentionIDs(context.Background(), HNews, "2401.00001")
	if err != nil {
		t.Fatalf("GetMentionIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "100" {
		t.Fatalf("ids: %v", ids)
	}
}

func TestLatestMentionTime(t *testing.T) {
	r, mock := newTestReader(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(created_at) FROM tweet")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(ts))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(created_at) FROM hnews")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	got, err := r.LatestMentionTime(context.Background(), Twitter)
	if err != nil || got == nil || !got.Equal(ts) {
		t.Fatalf("twitter latest: %v %v", got, err)
	}
	got, err = r.LatestMentionTime(context.Background(), HNews)
	if err != nil || got != nil {
		t.Fatalf("hnews latest: %v %v", got, err)
	}
}
