package model

import "time"

// AuditJobStatus is the state of a per-opportunity website audit.
type AuditJobStatus string

const (
	AuditJobStatusPending  AuditJobStatus = "pending"
	AuditJobStatusCrawling AuditJobStatus = "crawling"
	AuditJobStatusScraping AuditJobStatus = "scraping"
	AuditJobStatusComplete AuditJobStatus = "complete"
	AuditJobStatusError    AuditJobStatus = "error"
)

// AuditJob is one deep website analysis task. Created idempotently: at most
// one job per opportunity.
type AuditJob struct {
	ID            string         `json:"id"`
	OpportunityID string         `json:"opportunity_id"`
	FlowID        string         `json:"flow_id"`
	Website       string         `json:"website"`
	Status        AuditJobStatus `json:"status"`
	Error         string         `json:"error,omitempty"`
	Dossier       string         `json:"dossier,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// PageStatus is the per-page scrape state within an audit job.
type PageStatus string

const (
	PageStatusPending  PageStatus = "pending"
	PageStatusFetching PageStatus = "fetching"
	PageStatusScraped  PageStatus = "scraped"
	PageStatusFailed   PageStatus = "failed"
)

// AuditPage is one crawled page tracked by an audit job. Raw content lives
// in blob storage; the row keeps only the reference and metadata.
type AuditPage struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	URL        string     `json:"url"`
	Title      string     `json:"title,omitempty"`
	Status     PageStatus `json:"status"`
	BlobRef    string     `json:"blob_ref,omitempty"`
	StatusCode int        `json:"status_code,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
