package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Paper repräsentiert einen arXiv-Eintrag samt aggregierten Social-Zählern.
// Ein Stub (nur ID, Titel NULL) entsteht, wenn eine Erwähnung auf ein noch
// unbekanntes Paper verweist.
type Paper struct {
	ArxivID     string     `json:"arxiv_id" gorm:"column:arxiv_id;primaryKey;size:32"`
	Title       string     `json:"title,omitempty" gorm:"type:text;default:null"`
	Abstract    string     `json:"abstract,omitempty" gorm:"type:text;default:null"`
	PublishedTS *time.Time `json:"published_ts,omitempty" gorm:"column:published_ts;index"`

	// Spalte vector(n) wird von store.EnsureSchema mit der konfigurierten Dimension angelegt
	Embedding *pgvector.Vector `json:"embedding,omitempty" gorm:"-:migration"`

	SocialCounters `gorm:"embedded"`

	// Nur Ingestion; liegen in eigenen Tabellen
	Authors    []string `json:"authors,omitempty" gorm:"-"`
	Categories []string `json:"categories,omitempty" gorm:"-"`
}

func (Paper) TableName() string { return "arxiv" }

// SocialCounters sind die pro Quelle aufsummierten Engagement-Zähler.
type SocialCounters struct {
	TwitterLikes       int64 `json:"twitter_likes" gorm:"default:0"`
	TwitterRetweets    int64 `json:"twitter_retweets" gorm:"default:0"`
	TwitterReplies     int64 `json:"twitter_replies" gorm:"default:0"`
	TwitterQuotes      int64 `json:"twitter_quotes" gorm:"default:0"`
	TwitterImpressions int64 `json:"twitter_impressions" gorm:"default:0"`
	HNewsPoints        int64 `json:"hnews_points" gorm:"column:hnews_points;default:0"`
	HNewsNumComments   int64 `json:"hnews_num_comments" gorm:"column:hnews_num_comments;default:0"`
}

// Author verknüpft ein Paper mit einem (normalisierten) Autorennamen.
type Author struct {
	ArxivID string `gorm:"column:arxiv_id;primaryKey;size:32"`
	Author  string `gorm:"primaryKey;size:256"`

	Paper *Paper `json:"-" gorm:"foreignKey:ArxivID;references:ArxivID;constraint:OnDelete:CASCADE"`
}

func (Author) TableName() string { return "arxiv_author" }

type Category struct {
	ArxivID  string `gorm:"column:arxiv_id;primaryKey;size:32"`
	Category string `gorm:"primaryKey;size:32"`

	Paper *Paper `json:"-" gorm:"foreignKey:ArxivID;references:ArxivID;constraint:OnDelete:CASCADE"`
}

func (Category) TableName() string { return "arxiv_category" }

// SimilarityResult ist ein Treffer der Ähnlichkeitssuche.
type SimilarityResult struct {
	Paper      `gorm:"embedded"`
	Similarity float64 `json:"similarity" gorm:"column:similarity"`
}
