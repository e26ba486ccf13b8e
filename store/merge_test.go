package store

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
)

func records(rs ...Record) iter.Seq[Record] {
	return slices.Values(rs)
}

func TestMergeOverwrite(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM arxiv LIMIT 0`).WillReturnRows(sqlmock.NewRows(paperColumns))
	mock.ExpectExec(sqlPattern("arxiv", "CREATE TEMPORARY TABLE STAGE ON COMMIT DROP AS SELECT arxiv_id, title FROM arxiv LIMIT 0")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("arxiv", "INSERT INTO STAGE (arxiv_id, title) VALUES ($1, $2), ($3, $4)")).
		WithArgs("2401.00001", "First", "2401.00002", "Second").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(sqlPattern("arxiv", "INSERT INTO arxiv (arxiv_id, title) SELECT arxiv_id, title FROM STAGE ON CONFLICT (arxiv_id) DO UPDATE SET title = EXCLUDED.title")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	e := newTestEngine(db, 500)
	err := e.MergeTx(context.Background(), MergeSpec{
		Table: PaperTable,
		Records: records(
			Record{"arxiv_id": "2401.00001", "title": "First"},
			Record{"arxiv_id": "2401.00002", "title": "Second"},
		),
		WriteColumns: []string{"title"},
		Policy:       Overwrite,
	})
	if err != nil {
		t.Fatalf("MergeTx: %v", err)
	}
}

func TestMergeKeepExistingSkipsRepeatedKeys(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM arxiv_author LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"arxiv_id", "author"}))
	mock.ExpectExec(sqlPattern("arxiv_author", "CREATE TEMPORARY TABLE STAGE ON COMMIT DROP AS SELECT arxiv_id, author FROM arxiv_author LIMIT 0")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("arxiv_author", "INSERT INTO STAGE (arxiv_id, author) VALUES ($1, $2), ($3, $4)")).
		WithArgs("2401.00001", "Ada Lovelace", "2401.00001", "Alan Turing").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(sqlPattern("arxiv_author", "INSERT INTO arxiv_author (arxiv_id, author) SELECT arxiv_id, author FROM STAGE ON CONFLICT (arxiv_id, author) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := newTestEngine(db, 500)
	err := e.MergeTx(context.Background(), MergeSpec{
		Table: AuthorTable,
		Records: records(
			Record{"arxiv_id": "2401.00001", "author": "Ada Lovelace"},
			Record{"arxiv_id": "2401.00001", "author": "Ada Lovelace"},
			Record{"arxiv_id": "2401.00001", "author": "Alan Turing"},
		),
		Policy: KeepExisting,
	})
	if err != nil {
		t.Fatalf("MergeTx: %v", err)
	}
}

func TestMergeOverwriteDuplicateKeyRollsBack(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM arxiv LIMIT 0`).WillReturnRows(sqlmock.NewRows(paperColumns))
	mock.ExpectExec(sqlPattern("arxiv", "CREATE TEMPORARY TABLE STAGE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	e := newTestEngine(db, 500)
	err := e.MergeTx(context.Background(), MergeSpec{
		Table: PaperTable,
		Records: records(
			Record{"arxiv_id": "2401.00001", "title": "A"},
			Record{"arxiv_id": "2401.00001", "title": "B"},
		),
		WriteColumns: []string{"title"},
		Policy:       Overwrite,
	})
	if !errors.Is(err, ErrDuplicateKey) || !errors.Is(err, ErrValidation) {
		t.Fatalf("want duplicate key validation error, got %v", err)
	}
}

func TestMergeEmptyIsNoop(t *testing.T) {
	db, _ := newMock(t)
	e := newTestEngine(db, 500)
	if err := e.MergeTx(context.Background(), MergeSpec{Table: PaperTable, Records: records()}); err != nil {
		t.Fatalf("empty merge: %v", err)
	}
	if err := e.MergeTx(context.Background(), MergeSpec{Table: PaperTable}); err != nil {
		t.Fatalf("nil records: %v", err)
	}
}

func TestMergeRejectsUnknownAndGeneratedColumns(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM arxiv LIMIT 0`).WillReturnRows(sqlmock.NewRows(paperColumns))
	mock.ExpectRollback()

	e := newTestEngine(db, 500)
	err := e.MergeTx(context.Background(), MergeSpec{
		Table:        PaperTable,
		Records:      records(Record{"arxiv_id": "2401.00001"}),
		WriteColumns: []string{"text_search_vector"},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("generated write column: want validation error, got %v", err)
	}

	// catalog is cached now, so no further query is issued
	mock.ExpectBegin()
	mock.ExpectExec(sqlPattern("arxiv", "CREATE TEMPORARY TABLE STAGE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	err = e.MergeTx(context.Background(), MergeSpec{
		Table:        PaperTable,
		Records:      records(Record{"arxiv_id": "2401.00001", "doi": "10.1/x"}),
		WriteColumns: []string{"title"},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown record column: want validation error, got %v", err)
	}
}

func TestMergeBatchesRows(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM arxiv_category LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"arxiv_id", "category"}))
	mock.ExpectExec(sqlPattern("arxiv_category", "CREATE TEMPORARY TABLE STAGE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("arxiv_category", "INSERT INTO STAGE (arxiv_id, category) VALUES ($1, $2), ($3, $4)")).
		WithArgs("1", "cs.LG", "2", "cs.AI").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(sqlPattern("arxiv_category", "INSERT INTO STAGE (arxiv_id, category) VALUES ($1, $2)")).
		WithArgs("3", "cs.CL").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern("arxiv_category", "INSERT INTO arxiv_category (arxiv_id, category) SELECT arxiv_id, category FROM STAGE ON CONFLICT (arxiv_id, category) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	e := newTestEngine(db, 2)
	err := e.MergeTx(context.Background(), MergeSpec{
		Table: CategoryTable,
		Records: records(
			Record{"arxiv_id": "1", "category": "cs.LG"},
			Record{"arxiv_id": "2", "category": "cs.AI"},
			Record{"arxiv_id": "3", "category": "cs.CL"},
		),
		Policy: KeepExisting,
	})
	if err != nil {
		t.Fatalf("MergeTx: %v", err)
	}
}

func TestMergeZeroBatchSizeUsesDefault(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM arxiv_category LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"arxiv_id", "category"}))
	mock.ExpectExec(sqlPattern("arxiv_category", "CREATE TEMPORARY TABLE STAGE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO arxiv_category_stage_[0-9a-f]{8} \(arxiv_id, category\) VALUES .*\(\$999, \$1000\)$`).
		WillReturnResult(sqlmock.NewResult(0, defaultBatchSize))
	mock.ExpectExec(sqlPattern("arxiv_category", "INSERT INTO STAGE (arxiv_id, category) VALUES ($1, $2)")).
		WithArgs("500", "cs.LG").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern("arxiv_category", "INSERT INTO arxiv_category (arxiv_id, category) SELECT")).
		WillReturnResult(sqlmock.NewResult(0, defaultBatchSize+1))
	mock.ExpectCommit()

	rows := make([]Record, defaultBatchSize+1)
	for i := range rows {
		rows[i] = Record{"arxiv_id": strconv.Itoa(i), "category": "cs.LG"}
	}
	e := &Engine{DB: db, Catalog: NewCatalog(db), Logger: zap.NewNop()}
	err := e.MergeTx(context.Background(), MergeSpec{
		Table:   CategoryTable,
		Records: slices.Values(rows),
		Policy:  KeepExisting,
	})
	if err != nil {
		t.Fatalf("MergeTx: %v", err)
	}
}

func TestMergeMissingKeyIsValidationError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM tweet LIMIT 0`).
		WillReturnRows(sqlmock.NewRows([]string{"tweet_id", "created_at", "likes"}))
	mock.ExpectExec(sqlPattern("tweet", "CREATE TEMPORARY TABLE STAGE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	e := newTestEngine(db, 500)
	err := e.MergeTx(context.Background(), MergeSpec{
		Table:   TweetTable,
		Records: records(Record{"likes": int64(3)}),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestConflictAction(t *testing.T) {
	if got := conflictAction(Overwrite, []string{"arxiv_id"}, []string{"arxiv_id"}); got != "DO NOTHING" {
		t.Fatalf("key-only overwrite: %q", got)
	}
	got := conflictAction(Overwrite, []string{"tweet_id"}, []string{"tweet_id", "likes", "quotes"})
	if got != "DO UPDATE SET likes = EXCLUDED.likes, quotes = EXCLUDED.quotes" {
		t.Fatalf("overwrite: %q", got)
	}
	if cols := mergeColumns([]string{"a", "b"}, []string{"c", "a", "d"}); !slices.Equal(cols, []string{"a", "b", "c", "d"}) {
		t.Fatalf("mergeColumns: %v", cols)
	}
}
