package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"arxiv-hype/store"
	"arxiv-hype/store/storetest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSocialMetrics(db *gorm.DB) *SocialMetrics {
	engine := store.NewEngine(db, store.NewCatalog(db), zap.NewNop(), 500)
	return NewSocialMetrics(db, engine, zap.NewNop(), time.Minute)
}

func TestAggregateQuery(t *testing.T) {
	assert.Equal(t,
		"SELECT x.arxiv_id, CAST(COALESCE(SUM(m.points), 0) AS bigint) AS hnews_points, "+
			"CAST(COALESCE(SUM(m.num_comments), 0) AS bigint) AS hnews_num_comments "+
			"FROM arxiv_hnews x JOIN hnews m ON m.hnews_id = x.hnews_id GROUP BY x.arxiv_id",
		AggregateQuery(store.HNews))
}

func TestRecomputeMergesAggregates(t *testing.T) {
	db, mock := storetest.Mock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(AggregateQuery(store.HNews))).
		WillReturnRows(sqlmock.NewRows([]string{"arxiv_id", "hnews_points", "hnews_num_comments"}).
			AddRow("2401.00001", int64(12), int64(3)).
			AddRow("2401.00002", int64(0), int64(1)))
	mock.ExpectQuery(`SELECT \* FROM arxiv LIMIT 0`).WillReturnRows(sqlmock.NewRows(paperColumns))
	mock.ExpectExec(stage("arxiv", "CREATE TEMPORARY TABLE STAGE ON COMMIT DROP AS SELECT arxiv_id, hnews_points, hnews_num_comments FROM arxiv LIMIT 0")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(stage("arxiv", "INSERT INTO STAGE (arxiv_id, hnews_points, hnews_num_comments) VALUES ($1, $2, $3), ($4, $5, $6)")).
		WithArgs("2401.00001", int64(12), int64(3), "2401.00002", int64(0), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(stage("arxiv", "INSERT INTO arxiv (arxiv_id, hnews_points, hnews_num_comments) SELECT arxiv_id, hnews_points, hnews_num_comments FROM STAGE ON CONFLICT (arxiv_id) DO UPDATE SET hnews_points = EXCLUDED.hnews_points, hnews_num_comments = EXCLUDED.hnews_num_comments")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, newSocialMetrics(db).Recompute(context.Background(), store.HNews))
}

func TestRecomputeWithoutMentionsOnlyReads(t *testing.T) {
	db, mock := storetest.Mock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(AggregateQuery(store.Twitter))).
		WillReturnRows(sqlmock.NewRows(append([]string{"arxiv_id"}, store.Twitter.CounterColumns()...)))
	mock.ExpectCommit()

	require.NoError(t, newSocialMetrics(db).Recompute(context.Background(), store.Twitter))
}

func TestRecomputeRejectsUnknownSource(t *testing.T) {
	db, mock := storetest.Mock(t)
	err := newSocialMetrics(db).Recompute(context.Background(), store.Source{Name: "mastodon"})
	assert.ErrorIs(t, err, store.ErrValidation)

	// bekannte Quelle vor der unbekannten: trotzdem kein Begin
	err = newSocialMetrics(db).Recompute(context.Background(), store.Twitter, store.Source{Name: "mastodon"})
	assert.ErrorIs(t, err, store.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeRunsAllSourcesInOneTransaction(t *testing.T) {
	db, mock := storetest.Mock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(AggregateQuery(store.Twitter))).
		WillReturnRows(sqlmock.NewRows(append([]string{"arxiv_id"}, store.Twitter.CounterColumns()...)))
	mock.ExpectQuery(regexp.QuoteMeta(AggregateQuery(store.HNews))).
		WillReturnRows(sqlmock.NewRows(append([]string{"arxiv_id"}, store.HNews.CounterColumns()...)))
	mock.ExpectCommit()

	require.NoError(t, newSocialMetrics(db).Recompute(context.Background(), store.Twitter, store.HNews))
}

func TestRecomputeRollsBackAllSourcesOnFailure(t *testing.T) {
	db, mock := storetest.Mock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(AggregateQuery(store.Twitter))).
		WillReturnRows(sqlmock.NewRows(append([]string{"arxiv_id"}, store.Twitter.CounterColumns()...)))
	mock.ExpectQuery(regexp.QuoteMeta(AggregateQuery(store.HNews))).
		WillReturnError(errors.New("relation \"arxiv_hnews\" does not exist"))
	mock.ExpectRollback()

	err := newSocialMetrics(db).Recompute(context.Background(), store.Twitter, store.HNews)
	assert.ErrorContains(t, err, "recompute hnews counters")
}
