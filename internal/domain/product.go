package domain

import (
	"maps"
	"time"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ProductRecord is a single extracted listing. product_url is the identity key within a run.
type ProductRecord struct {
	Origin          string         `json:"origin"`
	ProductID       string         `json:"product_id,omitempty"`
	ProductURL      string         `json:"product_url"`
	Title           string         `json:"title"`
	Price           *float64       `json:"price"`
	Currency        string         `json:"currency"`
	Brand           string         `json:"brand,omitempty"`
	Description     string         `json:"description,omitempty"`
	ImageURL        string         `json:"image_url,omitempty"`
	InStock         bool           `json:"in_stock"`
	ScrapedAt       time.Time      `json:"scraped_at"`
	SearchTerm      string         `json:"search_term"`
	MatchScore      float64        `json:"match_score"`
	MatchConfidence Confidence     `json:"match_confidence"`
	MatchReasoning  string         `json:"match_reasoning"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// WithMatch returns a copy of the record tagged with the search term and match outcome.
func (r ProductRecord) WithMatch(term string, m MatchResult, extra map[string]any) ProductRecord {
	out := r
	out.SearchTerm = term
	out.MatchScore = m.SimilarityScore
	out.MatchConfidence = m.Confidence
	out.MatchReasoning = m.Reasoning
	out.Metadata = make(map[string]any, len(r.Metadata)+len(extra))
	maps.Copy(out.Metadata, r.Metadata)
	maps.Copy(out.Metadata, extra)
	return out
}

type MatchResult struct {
	SimilarityScore float64    `json:"similarity_score"`
	CategoryMatch   bool       `json:"category_match"`
	MaterialMatch   bool       `json:"material_match"`
	BrandMatch      bool       `json:"brand_match"`
	SizeMatch       bool       `json:"size_match"`
	Confidence      Confidence `json:"confidence"`
	Reasoning       string     `json:"reasoning"`
}

// SearchQuery is a target term plus the desired accepted count per origin.
type SearchQuery struct {
	Term        string `json:"term"`
	MinAccepted int    `json:"min_accepted"`
}
