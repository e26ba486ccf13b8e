package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"arxiv-hype/models"
	"arxiv-hype/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEmbedder struct {
	err   error
	calls int
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return [][]float32{{1, 0, 0}}, nil
}

type stubSearcher struct {
	results []models.SimilarityResult
	err     error
	opts    store.SearchOptions
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, opts store.SearchOptions) ([]models.SimilarityResult, error) {
	s.opts = opts
	return s.results, s.err
}

type memoryCache struct {
	entries map[string][]byte
}

func (m *memoryCache) Get(_ context.Context, key string, dst any) (bool, error) {
	raw, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memoryCache) Set(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

type stubPapers struct {
	papers   []models.Paper
	err      error
	filter   store.PaperFilter
	mentions map[string][]string
}

func (s *stubPapers) GetPapers(_ context.Context, f store.PaperFilter) ([]models.Paper, error) {
	s.filter = f
	return s.papers, s.err
}

func (s *stubPapers) GetMentionIDs(_ context.Context, src store.Source, _ string) ([]string, error) {
	return s.mentions[src.Name], nil
}

type stubTrigger struct{ busy bool }

func (t *stubTrigger) Trigger(context.Context) bool { return !t.busy }

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, router *gin.Engine, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func searchRouter(e *stubEmbedder, s *stubSearcher, c responseCache) *gin.Engine {
	router := gin.New()
	setupSearchRoutes(router, e, s, c, zap.NewNop())
	return router
}

func TestSearchRoute(t *testing.T) {
	s := &stubSearcher{results: []models.SimilarityResult{
		{Paper: models.Paper{ArxivID: "2401.00001", Title: "Hype"}, Similarity: 0.9},
	}}
	router := searchRouter(&stubEmbedder{}, s, &memoryCache{entries: map[string][]byte{}})

	w, body := serve(t, router, http.MethodGet, "/search?q=diffusion&start_date=2024-01-01&require_social=true&top_k=9999")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, store.MaxTopK, s.opts.TopK)
	assert.True(t, s.opts.RequireSocial)
	require.NotNil(t, s.opts.StartDate)
	assert.Equal(t, "2024-01-01", s.opts.StartDate.Format("2006-01-02"))
	assert.Nil(t, s.opts.EndDate)
}

func TestSearchRouteTopKDefaultsOnlyWhenAbsent(t *testing.T) {
	s := &stubSearcher{results: []models.SimilarityResult{}}
	router := searchRouter(&stubEmbedder{}, s, &memoryCache{entries: map[string][]byte{}})

	serve(t, router, http.MethodGet, "/search?q=x")
	assert.Equal(t, store.DefaultTopK, s.opts.TopK)

	serve(t, router, http.MethodGet, "/search?q=y&top_k=0")
	assert.Equal(t, 1, s.opts.TopK)
}

func TestSearchRouteServesRepeatedQueriesFromCache(t *testing.T) {
	e := &stubEmbedder{}
	s := &stubSearcher{results: []models.SimilarityResult{{Paper: models.Paper{ArxivID: "2401.00001"}}}}
	router := searchRouter(e, s, &memoryCache{entries: map[string][]byte{}})

	serve(t, router, http.MethodGet, "/search?q=transformers")
	_, body := serve(t, router, http.MethodGet, "/search?q=+transformers+")
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, 1, e.calls)
}

func TestSearchRouteValidation(t *testing.T) {
	router := searchRouter(&stubEmbedder{}, &stubSearcher{}, &memoryCache{entries: map[string][]byte{}})
	for _, target := range []string{
		"/search",
		"/search?q=x&start_date=01.02.2024",
		"/search?q=x&top_k=many",
	} {
		w, _ := serve(t, router, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	s := &stubSearcher{err: errors.Join(store.ErrValidation, errors.New("end date before start date"))}
	w, _ := serve(t, searchRouter(&stubEmbedder{}, s, &memoryCache{entries: map[string][]byte{}}),
		http.MethodGet, "/search?q=x&start_date=2024-02-01&end_date=2024-01-01")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchRouteDegradesToEmptyResults(t *testing.T) {
	c := &memoryCache{entries: map[string][]byte{}}
	s := &stubSearcher{results: []models.SimilarityResult{}, err: errors.New("giving up after 6 attempts")}
	w, body := serve(t, searchRouter(&stubEmbedder{}, s, c), http.MethodGet, "/search?q=x")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, body["results"])
	assert.NotEmpty(t, body["error"])
	assert.Empty(t, c.entries)
}

func TestSearchRouteEmbeddingFailure(t *testing.T) {
	w, _ := serve(t, searchRouter(&stubEmbedder{err: errors.New("connection refused")}, &stubSearcher{}, &memoryCache{entries: map[string][]byte{}}),
		http.MethodGet, "/search?q=x")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPapersRoute(t *testing.T) {
	p := &stubPapers{papers: []models.Paper{{ArxivID: "2401.00001"}}}
	router := gin.New()
	setupPaperRoutes(router, p, zap.NewNop())

	w, body := serve(t, router, http.MethodGet, "/papers?ids=2401.00001v2,+2401.00002&missing=title&ids_only=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, []string{"2401.00001", "2401.00002"}, p.filter.IDs)
	assert.Equal(t, []string{"title"}, p.filter.RequiredNull)
	assert.True(t, p.filter.IDsOnly)

	w, _ = serve(t, router, http.MethodGet, "/papers?ids=not-an-id")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p.err = errors.Join(store.ErrValidation, errors.New("column \"tweet_id\" cannot be filtered for NULL"))
	w, _ = serve(t, router, http.MethodGet, "/papers?missing=tweet_id")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p.err = errors.New("conn closed")
	w, _ = serve(t, router, http.MethodGet, "/papers")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMentionsRoute(t *testing.T) {
	p := &stubPapers{mentions: map[string][]string{"twitter": {"t1", "t2"}}}
	router := gin.New()
	setupPaperRoutes(router, p, zap.NewNop())

	w, body := serve(t, router, http.MethodGet, "/papers/2401.00001/mentions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{
		"twitter": []any{"t1", "t2"},
		"hnews":   []any{},
	}, body["mentions"])

	w, _ = serve(t, router, http.MethodGet, "/papers/2401.00001/mentions?source=reddit")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPipelineRoute(t *testing.T) {
	trigger := &stubTrigger{}
	router := gin.New()
	setupPipelineRoutes(router, trigger)

	w, _ := serve(t, router, http.MethodPost, "/pipeline/run")
	assert.Equal(t, http.StatusAccepted, w.Code)

	trigger.busy = true
	w, _ = serve(t, router, http.MethodPost, "/pipeline/run")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthHandler(t *testing.T) {
	router := gin.New()
	router.GET("/ok", healthHandler(func(context.Context) error { return nil }))
	router.GET("/down", healthHandler(func(context.Context) error { return errors.New("dial tcp: refused") }))

	w, _ := serve(t, router, http.MethodGet, "/ok")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = serve(t, router, http.MethodGet, "/down")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
