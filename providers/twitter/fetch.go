// Package twitter sucht Tweets mit arXiv-Links über die Twitter-API v2.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"arxiv-hype/config"
	"arxiv-hype/models"
	"arxiv-hype/providers"

	"go.uber.org/zap"
)

var httpClient = providers.NewHTTPClient(30 * time.Second)

// SearchResponse repräsentiert eine Seite von /tweets/search/recent.
type SearchResponse struct {
	Data []Tweet `json:"data"`
	Meta struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type Tweet struct {
	ID               string `json:"id"`
	CreatedAt        string `json:"created_at"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
	Entities struct {
		URLs []struct {
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
	} `json:"entities"`
	PublicMetrics struct {
		LikeCount       int64 `json:"like_count"`
		RetweetCount    int64 `json:"retweet_count"`
		ReplyCount      int64 `json:"reply_count"`
		QuoteCount      int64 `json:"quote_count"`
		ImpressionCount int64 `json:"impression_count"`
	} `json:"public_metrics"`
}

// Fetcher implementiert das MentionProvider-Interface für Twitter.
type Fetcher struct {
	BaseURL     string
	BearerToken string
	MaxPages    int
	Logger      *zap.Logger
	Client      *http.Client
}

// NewFetcher erstellt einen neuen Twitter-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		BaseURL:     cfg.TwitterBaseURL,
		BearerToken: cfg.TwitterBearerToken,
		MaxPages:    cfg.TwitterMaxPages,
		Logger:      logger,
		Client:      httpClient,
	}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return "twitter"
}

// Search liefert Tweets (ohne Retweets) mit arXiv-Links seit since.
func (f *Fetcher) Search(ctx context.Context, since *time.Time) ([]models.Mention, error) {
	if f.BearerToken == "" {
		return nil, fmt.Errorf("twitter bearer token ist nicht konfiguriert")
	}
	seen := map[string]bool{}
	var mentions []models.Mention
	next := ""
	for page := 0; page < max(f.MaxPages, 1); page++ {
		q := url.Values{}
		q.Set("query", "url:arxiv.org")
		q.Set("max_results", "100")
		q.Set("tweet.fields", "created_at,entities,public_metrics,referenced_tweets")
		if since != nil {
			q.Set("start_time", since.UTC().Format(time.RFC3339))
		}
		if next != "" {
			q.Set("next_token", next)
		}

		var resp SearchResponse
		if err := f.get(ctx, f.BaseURL+"/tweets/search/recent?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		for _, t := range resp.Data {
			m, ok := mapTweetToMention(t)
			if ok && !seen[m.ID] {
				seen[m.ID] = true
				mentions = append(mentions, m)
			}
		}
		if next = resp.Meta.NextToken; next == "" {
			break
		}
	}
	f.Logger.Info("Twitter-Suche abgeschlossen", zap.Int("mentions", len(mentions)))
	return mentions, nil
}

func (f *Fetcher) get(ctx context.Context, reqURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+f.BearerToken)
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("twitter request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twitter request failed with status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func isRetweet(t Tweet) bool {
	for _, r := range t.ReferencedTweets {
		if r.Type == "retweeted" {
			return true
		}
	}
	return false
}

func mapTweetToMention(t Tweet) (models.Mention, bool) {
	if t.ID == "" || isRetweet(t) {
		return models.Mention{}, false
	}
	var ids []string
	seen := map[string]bool{}
	for _, u := range t.Entities.URLs {
		// ein Link enthält höchstens eine ID
		if id := providers.URLToID(u.ExpandedURL); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return models.Mention{}, false
	}
	created, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return models.Mention{}, false
	}
	pm := t.PublicMetrics
	return models.Mention{
		ID:        t.ID,
		CreatedAt: created.UTC(),
		Counters: map[string]int64{
			"likes":       pm.LikeCount,
			"retweets":    pm.RetweetCount,
			"replies":     pm.ReplyCount,
			"quotes":      pm.QuoteCount,
			"impressions": pm.ImpressionCount,
		},
		PaperIDs: ids,
	}, true
}
