package models

import (
	"strings"
	"time"
)

// Stance is a provider-supplied label on a piece of evidence.
type Stance string

// Evidence stances. Providers that omit a stance get StanceNeutral.
const (
	StancePro     Stance = "PRO"
	StanceCon     Stance = "CON"
	StanceNeutral Stance = "NEUTRAL"
)

// ParseStance normalizes a provider-reported stance, defaulting to NEUTRAL
// for anything outside the closed set.
func ParseStance(s string) Stance {
	switch Stance(strings.ToUpper(strings.TrimSpace(s))) {
	case StancePro:
		return StancePro
	case StanceCon:
		return StanceCon
	default:
		return StanceNeutral
	}
}

// SourceCategory classifies the host an evidence URL points at.
type SourceCategory string

// Evidence source categories.
const (
	SourceCategoryNews      SourceCategory = "NEWS"
	SourceCategoryCommunity SourceCategory = "COMMUNITY"
	SourceCategoryBlog      SourceCategory = "BLOG"
	SourceCategoryOfficial  SourceCategory = "OFFICIAL"
	SourceCategoryAcademic  SourceCategory = "ACADEMIC"
)

// CrawlEvidence is a URL+snippet artifact attached to a deep-search job.
// Rows are unique per (job_id, url); duplicate ingestion is a no-op.
type CrawlEvidence struct {
	ID             string         `json:"id"`
	JobID          string         `json:"job_id"`
	URL            string         `json:"url"`
	Title          string         `json:"title"`
	Stance         Stance         `json:"stance"`
	Snippet        string         `json:"snippet"`
	SourceCategory SourceCategory `json:"source_category"`
	CreatedAt      time.Time      `json:"created_at"`
}
