// Package embedding spricht einen text-embeddings-inference-kompatiblen Dienst an.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arxiv-hype/config"
	"arxiv-hype/providers"

	"go.uber.org/zap"
)

var httpClient = providers.NewHTTPClient(120 * time.Second)

type embedRequest struct {
	Inputs    []string `json:"inputs"`
	Normalize bool     `json:"normalize"`
	Truncate  bool     `json:"truncate"`
}

// Client implementiert das Embedder-Interface.
type Client struct {
	BaseURL   string
	Dimension int
	Logger    *zap.Logger
	HTTP      *http.Client
}

// NewClient erstellt einen Embedding-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{BaseURL: strings.TrimRight(cfg.EmbeddingURL, "/"), Dimension: cfg.EmbeddingDim, Logger: logger, HTTP: httpClient}
}

// Embed liefert einen normalisierten Vektor je Text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Inputs: texts, Normalize: true, Truncate: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("fehler beim Parsen der Embedding-Antwort: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if c.Dimension > 0 && len(v) != c.Dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), c.Dimension)
		}
	}
	c.Logger.Debug("Embeddings berechnet", zap.Int("count", len(vectors)))
	return vectors, nil
}
