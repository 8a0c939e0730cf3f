package model

// RawCandidate is a discovered document before classification. Scrapers
// produce these; the cost-optimization pipeline consumes them. They are not
// persisted beyond the on-disk cache.
type RawCandidate struct {
	Title     string   `json:"title"`
	SourceURL string   `json:"source_url"`
	SourceID  string   `json:"source_id,omitempty"`
	Snippet   string   `json:"snippet,omitempty"`
	RawDate   string   `json:"raw_date,omitempty"`
	Source    string   `json:"source_name"` // e.g. "whitehouse", "federal_register"
	Keywords  []string `json:"keywords,omitempty"`
}
