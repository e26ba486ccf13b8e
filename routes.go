package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"arxiv-hype/cache"
	"arxiv-hype/models"
	"arxiv-hype/providers"
	"arxiv-hype/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type paperSearcher interface {
	Search(ctx context.Context, vec []float32, opts store.SearchOptions) ([]models.SimilarityResult, error)
}

type paperLookup interface {
	GetPapers(ctx context.Context, f store.PaperFilter) ([]models.Paper, error)
	GetMentionIDs(ctx context.Context, src store.Source, paperID string) ([]string, error)
}

type responseCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

type pipelineTrigger interface {
	Trigger(ctx context.Context) bool
}

// searchRequest sind die Query-Parameter von GET /search.
type searchRequest struct {
	Query         string `form:"q" json:"q"`
	Lexical       string `form:"lexical" json:"lexical,omitempty"`
	StartDate     string `form:"start_date" json:"start_date,omitempty"`
	EndDate       string `form:"end_date" json:"end_date,omitempty"`
	RequireSocial bool   `form:"require_social" json:"require_social,omitempty"`
	TopK          int    `form:"top_k" json:"top_k"`
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r searchRequest) options() (store.SearchOptions, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return store.SearchOptions{}, errors.New("start_date must be YYYY-MM-DD")
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return store.SearchOptions{}, errors.New("end_date must be YYYY-MM-DD")
	}
	return store.SearchOptions{
		LexicalQuery:  r.Lexical,
		StartDate:     start,
		EndDate:       end,
		RequireSocial: r.RequireSocial,
		TopK:          r.TopK,
	}, nil
}

func setupSearchRoutes(router *gin.Engine, embedder providers.Embedder, searcher paperSearcher, rc responseCache, log *zap.Logger) {
	router.GET("/search", func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
			return
		}
		req.Query = strings.TrimSpace(req.Query)
		req.Lexical = strings.TrimSpace(req.Lexical)
		if req.Query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
			return
		}
		if _, ok := c.GetQuery("top_k"); !ok {
			req.TopK = store.DefaultTopK
		}
		req.TopK = store.ClampTopK(req.TopK)
		opts, err := req.options()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		key, err := cache.Key(req)
		if err == nil {
			var cached []models.SimilarityResult
			if ok, err := rc.Get(ctx, key, &cached); err != nil {
				log.Warn("Such-Cache nicht lesbar", zap.Error(err))
			} else if ok {
				c.JSON(http.StatusOK, gin.H{"results": cached, "count": len(cached), "cached": true})
				return
			}
		}

		vectors, err := embedder.Embed(ctx, []string{req.Query})
		if err != nil || len(vectors) != 1 {
			log.Error("Query embedding failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "embedding service unavailable"})
			return
		}

		results, err := searcher.Search(ctx, vectors[0], opts)
		if errors.Is(err, store.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			// Suche degradiert zu einer leeren Liste
			c.JSON(http.StatusOK, gin.H{"results": []models.SimilarityResult{}, "count": 0, "error": "search temporarily unavailable"})
			return
		}
		if err := rc.Set(ctx, key, results); err != nil {
			log.Warn("Such-Cache nicht beschreibbar", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type paperQuery struct {
	IDs               string `form:"ids"`
	Missing           string `form:"missing"`
	IDsOnly           bool   `form:"ids_only"`
	IncludeEmbeddings bool   `form:"include_embeddings"`
	Limit             int    `form:"limit"`
}

func setupPaperRoutes(router *gin.Engine, papers paperLookup, log *zap.Logger) {
	rg := router.Group("/papers")

	rg.GET("", func(c *gin.Context) {
		var q paperQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
			return
		}
		f := store.PaperFilter{
			RequiredNull:      splitList(q.Missing),
			IDsOnly:           q.IDsOnly,
			IncludeEmbeddings: q.IncludeEmbeddings,
			Limit:             q.Limit,
		}
		for _, raw := range splitList(q.IDs) {
			id := providers.NormalizeID(raw)
			if id == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid arxiv id " + raw})
				return
			}
			f.IDs = append(f.IDs, id)
		}

		result, err := papers.GetPapers(c.Request.Context(), f)
		if errors.Is(err, store.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			log.Error("get papers", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"papers": result, "count": len(result)})
	})

	rg.GET("/:id/mentions", func(c *gin.Context) {
		id := providers.NormalizeID(c.Param("id"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid arxiv id"})
			return
		}
		sources := store.Sources
		if name := c.Query("source"); name != "" {
			src, err := store.SourceByName(name)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			sources = []store.Source{src}
		}

		mentions := make(map[string][]string, len(sources))
		for _, src := range sources {
			ids, err := papers.GetMentionIDs(c.Request.Context(), src, id)
			if err != nil {
				log.Error("get mention ids", zap.String("source", src.Name), zap.String("arxiv_id", id), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			if ids == nil {
				ids = []string{}
			}
			mentions[src.Name] = ids
		}
		c.JSON(http.StatusOK, gin.H{"arxiv_id": id, "mentions": mentions})
	})
}

func setupPipelineRoutes(router *gin.Engine, runner pipelineTrigger) {
	router.POST("/pipeline/run", func(c *gin.Context) {
		if !runner.Trigger(context.WithoutCancel(c.Request.Context())) {
			c.JSON(http.StatusConflict, gin.H{"error": "pipeline already running"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Pipeline run triggered."})
	})
}

func healthHandler(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
