package model

import (
	"time"
)

// SearchResult is one ranked match. It is derived per query and never
// persisted; chat title, content and role are denormalized so the result
// renders without another lookup.
type SearchResult struct {
	MessageID      string    `json:"message_id"`
	ChatID         string    `json:"chat_id"`
	ChatTitle      string    `json:"chat_title"`
	Content        string    `json:"content"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	RelevanceScore int       `json:"relevance_score"`
}

// SearchResponse is the response for a search query.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}
