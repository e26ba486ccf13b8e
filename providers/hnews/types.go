// Package hnews enthält die Logik für die Hacker-News-Suche über die Algolia-API.
package hnews

// SearchResponse repräsentiert eine Ergebnisseite der Algolia-Suche.
type SearchResponse struct {
	Hits        []Hit `json:"hits"`
	Page        int   `json:"page"`
	NbPages     int   `json:"nbPages"`
	HitsPerPage int   `json:"hitsPerPage"`
}

// Hit ist eine Story oder ein Kommentar.
type Hit struct {
	ObjectID    string   `json:"objectID"`
	CreatedAt   string   `json:"created_at"`
	Points      *int64   `json:"points"`
	NumComments *int64   `json:"num_comments"`
	URL         *string  `json:"url"`
	StoryText   *string  `json:"story_text"`
	CommentText *string  `json:"comment_text"`
	Tags        []string `json:"_tags"`
}
