package models

import "time"

// NewsItem is one aggregated RSS entry, deduplicated by link.
type NewsItem struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Source    string    `json:"source"`
	Summary   string    `json:"summary,omitempty"`
	FundCode  string    `json:"fund_code,omitempty"` // empty for general market news
	PubDate   time.Time `json:"pub_date"`
	CreatedAt time.Time `json:"created_at"`
}
