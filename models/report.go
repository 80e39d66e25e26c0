package models

import "time"

// RunReport summarises one pipeline run.
type RunReport struct {
	RunID      string
	Source     *SourceURL
	Sheet      string
	StartRow   int
	Rows       int
	Header     bool
	Enriched   bool
	Enrichment *EnrichmentResult
	Record     Record
	StartedAt  time.Time
	Duration   time.Duration
}
