package models

import "time"

// Mention ist eine Erwähnung in einer Social-Quelle, bevor sie geschrieben wird.
// Counters und Extras sind nach den Spaltennamen der Quelle geschlüsselt.
type Mention struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Counters  map[string]int64 `json:"counters,omitempty"`
	Extras    map[string]any   `json:"extras,omitempty"`
	PaperIDs  []string         `json:"paper_ids"`
}

type Tweet struct {
	TweetID     string    `gorm:"column:tweet_id;primaryKey;size:32"`
	CreatedAt   time.Time `gorm:"index"`
	Likes       int64     `gorm:"default:0"`
	Retweets    int64     `gorm:"default:0"`
	Replies     int64     `gorm:"default:0"`
	Quotes      int64     `gorm:"default:0"`
	Impressions int64     `gorm:"default:0"`
}

func (Tweet) TableName() string { return "tweet" }

type PaperTweet struct {
	ArxivID string `gorm:"column:arxiv_id;primaryKey;size:32"`
	TweetID string `gorm:"column:tweet_id;primaryKey;size:32;index"`

	Paper *Paper `json:"-" gorm:"foreignKey:ArxivID;references:ArxivID;constraint:OnDelete:CASCADE"`
	Tweet *Tweet `json:"-" gorm:"foreignKey:TweetID;references:TweetID;constraint:OnDelete:CASCADE"`
}

func (PaperTweet) TableName() string { return "arxiv_tweet" }

// HNewsPost ist eine Story oder ein Kommentar auf Hacker News.
type HNewsPost struct {
	HNewsID     string    `gorm:"column:hnews_id;primaryKey;size:32"`
	CreatedAt   time.Time `gorm:"index"`
	Points      int64     `gorm:"default:0"`
	NumComments int64     `gorm:"default:0"`
	IsStory     bool      `gorm:"default:false"`
	IsComment   bool      `gorm:"default:false"`
}

func (HNewsPost) TableName() string { return "hnews" }

type PaperHNews struct {
	ArxivID string `gorm:"column:arxiv_id;primaryKey;size:32"`
	HNewsID string `gorm:"column:hnews_id;primaryKey;size:32;index"`

	Paper *Paper     `json:"-" gorm:"foreignKey:ArxivID;references:ArxivID;constraint:OnDelete:CASCADE"`
	Post  *HNewsPost `json:"-" gorm:"foreignKey:HNewsID;references:HNewsID;constraint:OnDelete:CASCADE"`
}

func (PaperHNews) TableName() string { return "arxiv_hnews" }
