// Package search ranks messages across conversations against a query.
// Search is a pure function of the conversation snapshot and the query; no
// state is kept between calls.
package search

import (
	"regexp"
	"sort"
	"strings"

	"github.com/capitalize-ai/chatdesk/internal/model"
)

const (
	// MaxResults caps the ranked result set.
	MaxResults = 50

	scorePhraseContent = 100
	scorePhraseTitle   = 80
	scoreWordContent   = 10
	scoreWordTitle     = 15
	scoreSubContent    = 5
	scoreSubTitle      = 8
)

// Search scores every message in every conversation against query and returns
// the ranked results, highest score first, ties broken newest first, capped at
// MaxResults. An empty or whitespace-only query yields no results.
func Search(conversations []model.Conversation, query string) []model.SearchResult {
	queryLower := strings.ToLower(query)
	queryWords := strings.Fields(queryLower)
	if len(queryWords) == 0 {
		return nil
	}

	wordPatterns := make([]*regexp.Regexp, len(queryWords))
	for i, word := range queryWords {
		wordPatterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	}

	var results []model.SearchResult

	for _, conv := range conversations {
		titleLower := strings.ToLower(conv.Title)

		for _, msg := range conv.Messages {
			contentLower := strings.ToLower(msg.Content)

			score := 0

			// Exact phrase match dominates; exact title match close behind.
			if strings.Contains(contentLower, queryLower) {
				score += scorePhraseContent
			}
			if strings.Contains(titleLower, queryLower) {
				score += scorePhraseTitle
			}

			// Whole-word matches, multiplied by occurrence count.
			for _, pattern := range wordPatterns {
				score += scoreWordContent * len(pattern.FindAllStringIndex(msg.Content, -1))
				score += scoreWordTitle * len(pattern.FindAllStringIndex(conv.Title, -1))
			}

			// Flat substring bonuses surface partial matches without letting
			// them overwhelm exact ones.
			for _, word := range queryWords {
				if strings.Contains(contentLower, word) {
					score += scoreSubContent
				}
				if strings.Contains(titleLower, word) {
					score += scoreSubTitle
				}
			}

			if score == 0 {
				continue
			}

			results = append(results, model.SearchResult{
				MessageID:      msg.ID,
				ChatID:         conv.ID,
				ChatTitle:      conv.Title,
				Content:        msg.Content,
				Role:           msg.Role,
				CreatedAt:      msg.CreatedAt,
				RelevanceScore: score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if len(results) > MaxResults {
		results = results[:MaxResults]
	}

	return results
}

// Highlight wraps every case-insensitive occurrence of each query token in
// text with <mark> markers. Tokens are processed independently and in order;
// a later token may re-wrap text produced by an earlier one. An empty query
// returns text unmodified.
func Highlight(text, query string) string {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return text
	}

	highlighted := text
	for _, word := range words {
		pattern := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(word) + `)`)
		highlighted = pattern.ReplaceAllString(highlighted, "<mark>$1</mark>")
	}
	return highlighted
}
