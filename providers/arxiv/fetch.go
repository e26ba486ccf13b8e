package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arxiv-hype/config"
	"arxiv-hype/models"
	"arxiv-hype/providers"

	"go.uber.org/zap"
)

var httpClient = providers.NewHTTPClient(60 * time.Second)

// Fetcher implementiert das PaperProvider-Interface für arXiv.
type Fetcher struct {
	BaseURL string
	Logger  *zap.Logger
	Client  *http.Client
}

// NewFetcher erstellt einen neuen arXiv-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{BaseURL: cfg.ArxivBaseURL, Logger: logger, Client: httpClient}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "arxiv"
}

// FetchPapers holt Metadaten für bis zu len(ids) Paper in einer Anfrage.
// Die Drosselung übernimmt der Aufrufer (ParallelFetcher).
func (f *Fetcher) FetchPapers(ctx context.Context, ids []string) ([]models.Paper, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("id_list", strings.Join(ids, ","))
	q.Set("max_results", fmt.Sprint(len(ids)))
	reqURL := f.BaseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("arxiv request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var feed Feed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("fehler beim Parsen des arXiv-Feeds: %w", err)
	}

	papers := make([]models.Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p, ok := mapEntryToModel(e)
		if !ok {
			f.Logger.Debug("Feed-Eintrag ohne gültige ID übersprungen", zap.String("id", e.ID), zap.String("title", e.Title))
			continue
		}
		papers = append(papers, p)
	}
	f.Logger.Debug("arXiv-Metadaten geladen", zap.Int("requested", len(ids)), zap.Int("found", len(papers)))
	return papers, nil
}

// mapEntryToModel konvertiert einen Feed-Eintrag in unser Paper-Modell.
// Fehlereinträge der API tragen keine abs-URL als ID und werden verworfen.
func mapEntryToModel(e Entry) (models.Paper, bool) {
	id := providers.URLToID(e.ID)
	if id == "" {
		return models.Paper{}, false
	}
	p := models.Paper{
		ArxivID:  id,
		Title:    strings.TrimSpace(e.Title),
		Abstract: strings.TrimSpace(e.Summary),
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		ts = ts.UTC()
		p.PublishedTS = &ts
	}
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	for _, c := range e.Categories {
		if term := strings.TrimSpace(c.Term); term != "" {
			p.Categories = append(p.Categories, term)
		}
	}
	return p, true
}
