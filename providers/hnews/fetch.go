package hnews

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"arxiv-hype/config"
	"arxiv-hype/models"
	"arxiv-hype/providers"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var httpClient = providers.NewHTTPClient(30 * time.Second)

const (
	OrderByDate       = "date"
	OrderByPopularity = "popularity"
)

// Fetcher implementiert das MentionProvider-Interface für Hacker News.
type Fetcher struct {
	BaseURL    string
	MaxResults int
	// Pause zwischen zwei Seiten, hält uns deutlich unter 10k Anfragen/Stunde
	PageDelay time.Duration
	Orders    []string
	Logger    *zap.Logger
	Client    *http.Client
}

// NewFetcher erstellt einen neuen HN-Fetcher, der erst nach Datum und dann
// nach Popularität sucht.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		BaseURL:    cfg.HNewsBaseURL,
		MaxResults: cfg.HNewsMaxResults,
		PageDelay:  600 * time.Millisecond,
		Orders:     []string{OrderByDate, OrderByPopularity},
		Logger:     logger,
		Client:     httpClient,
	}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return "hnews"
}

// Search liefert Stories und Kommentare mit arXiv-Links seit since.
func (f *Fetcher) Search(ctx context.Context, since *time.Time) ([]models.Mention, error) {
	seen := map[string]bool{}
	var all []models.Mention
	for _, order := range f.Orders {
		mentions, err := f.search(ctx, order, since)
		if err != nil {
			return nil, err
		}
		for _, m := range mentions {
			if !seen[m.ID] {
				seen[m.ID] = true
				all = append(all, m)
			}
		}
	}
	f.Logger.Info("Hacker-News-Suche abgeschlossen", zap.Int("mentions", len(all)))
	return all, nil
}

func (f *Fetcher) search(ctx context.Context, order string, since *time.Time) ([]models.Mention, error) {
	var endpoint string
	switch order {
	case OrderByDate:
		endpoint = f.BaseURL + "/search_by_date"
	case OrderByPopularity:
		endpoint = f.BaseURL + "/search"
	default:
		return nil, fmt.Errorf("invalid order %q", order)
	}

	perPage := min(100, max(f.MaxResults, 1))
	var results []models.Mention
	for page := 0; len(results) < f.MaxResults; page++ {
		q := url.Values{}
		q.Set("query", "arxiv.org")
		q.Set("tags", "(story,comment)")
		q.Set("hitsPerPage", fmt.Sprint(perPage))
		if page > 0 {
			q.Set("page", fmt.Sprint(page))
		}
		if since != nil {
			q.Set("numericFilters", fmt.Sprintf("created_at_i>=%d", since.Unix()))
		}

		var resp SearchResponse
		if err := f.getJSON(ctx, endpoint+"?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		if len(resp.Hits) == 0 {
			break
		}
		for _, h := range resp.Hits {
			if m, ok := mapHitToMention(h); ok {
				results = append(results, m)
			}
		}
		f.Logger.Debug("HN-Seite geladen", zap.String("order", order), zap.Int("page", page), zap.Int("results", len(results)))
		if resp.NbPages > 0 && page+1 >= resp.NbPages {
			break
		}
		if f.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.PageDelay):
			}
		}
	}
	if len(results) > f.MaxResults {
		results = results[:f.MaxResults]
	}
	return results, nil
}

func (f *Fetcher) getJSON(ctx context.Context, reqURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("hnews request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hnews request failed with status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// mapHitToMention übernimmt nur Hits, die mindestens eine arXiv-ID enthalten.
func mapHitToMention(h Hit) (models.Mention, bool) {
	if h.ObjectID == "" {
		return models.Mention{}, false
	}
	parts := []string{deref(h.URL)}
	parts = append(parts, htmlText(deref(h.StoryText))...)
	parts = append(parts, htmlText(deref(h.CommentText))...)
	ids := providers.ExtractIDs(strings.Join(parts, " "))
	if len(ids) == 0 {
		return models.Mention{}, false
	}

	created, err := time.Parse(time.RFC3339, h.CreatedAt)
	if err != nil {
		return models.Mention{}, false
	}
	return models.Mention{
		ID:        h.ObjectID,
		CreatedAt: created.UTC(),
		Counters: map[string]int64{
			"points":       derefInt(h.Points),
			"num_comments": derefInt(h.NumComments),
		},
		Extras: map[string]any{
			"is_story":   slices.Contains(h.Tags, "story"),
			"is_comment": slices.Contains(h.Tags, "comment"),
		},
		PaperIDs: ids,
	}, true
}

// htmlText liefert den sichtbaren Text und alle Link-Ziele eines HTML-Fragments.
func htmlText(fragment string) []string {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return []string{fragment}
	}
	out := []string{doc.Text()}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			out = append(out, href)
		}
	})
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}
