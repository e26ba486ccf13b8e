package providers

import (
	"context"
	"net/http"
	"time"

	"arxiv-hype/models"
)

// PaperProvider liefert Metadaten zu einer Liste von arXiv-IDs.
type PaperProvider interface {
	// FetchPapers holt die Paper für ids; unbekannte IDs fehlen im Ergebnis.
	FetchPapers(ctx context.Context, ids []string) ([]models.Paper, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "arxiv").
	Name() string
}

// MentionProvider sucht Erwähnungen von arXiv-Papern in einer Social-Quelle.
type MentionProvider interface {
	// Search liefert alle Erwähnungen seit since (nil = ohne Untergrenze).
	Search(ctx context.Context, since *time.Time) ([]models.Mention, error)

	// Name entspricht dem Namen der Quelle im Store (z.B. "hnews").
	Name() string
}

// Embedder berechnet Embeddings für Texte, ein Vektor je Eingabe.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const userAgent = "arxiv-hype/1.0 (+https://github.com/arxiv-hype)"

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.Transport.RoundTrip(req)
}

// NewHTTPClient erstellt den HTTP-Client, den alle Provider verwenden.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &CustomTransport{Transport: http.DefaultTransport},
	}
}
