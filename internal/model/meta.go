package model

import "github.com/rotisserie/eris"

// ErrorRecord captures a single non-fatal failure or skip during a run.
// The ledger is the operator's answer to "why did I get fewer deals than
// expected" — no failure is silently dropped.
type ErrorRecord struct {
	Source string `json:"source"`
	Reason string `json:"error"`
}

// CostOptimization tallies the effect of each cost-reduction stage.
// Counters are reported even for disabled stages.
type CostOptimization struct {
	PrefilterEnabled  bool    `json:"prefilter_enabled"`
	PrefilterSkipped  int     `json:"prefilter_skipped"`
	TruncationEnabled bool    `json:"truncation_enabled"`
	Truncated         int     `json:"truncated"`
	ModelUsed         string  `json:"model_used"`
	CacheHits         int     `json:"cache_hits"`
	NewAPICalls       int     `json:"new_api_calls"`
	BatchMode         bool    `json:"batch_mode"`
	Batched           int     `json:"batched"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
}

// RunMeta is per-run provenance, created once by the orchestrator and
// immutable after the run completes.
type RunMeta struct {
	RunID            string           `json:"run_id"`
	GeneratedAt      string           `json:"generated_at"` // ISO 8601
	DealsScanned     int              `json:"deals_scanned"`
	DealsProcessed   int              `json:"deals_processed"`
	MaxItemsCap      *int             `json:"max_items_cap"`
	DateRangeStart   string           `json:"date_range_start,omitempty"`
	DateRangeEnd     string           `json:"date_range_end,omitempty"`
	ScraperVersion   string           `json:"scraper_version"`
	CountriesTracked []string         `json:"countries_tracked"`
	SourcesScraped   []string         `json:"sources_scraped"`
	CostOptimization CostOptimization `json:"cost_optimization"`
	Errors           []ErrorRecord    `json:"errors"`
}

func errDuplicateID(id string) error {
	return eris.Errorf("snapshot: duplicate deal id %q", id)
}

func errDanglingParent(id, parentID string) error {
	return eris.Errorf("snapshot: deal %q references unknown parent %q", id, parentID)
}

// Snapshot is the sole externally persisted artifact: {meta, items},
// written atomically so a reader never observes a partial file.
type Snapshot struct {
	Meta  RunMeta `json:"meta"`
	Items []Deal  `json:"items"`
}

// Normalize ensures array-valued fields are never null in the JSON output.
// The errors ledger in particular is always emitted, even when empty.
func (s *Snapshot) Normalize() {
	if s.Meta.CountriesTracked == nil {
		s.Meta.CountriesTracked = []string{}
	}
	if s.Meta.SourcesScraped == nil {
		s.Meta.SourcesScraped = []string{}
	}
	if s.Meta.Errors == nil {
		s.Meta.Errors = []ErrorRecord{}
	}
	if s.Items == nil {
		s.Items = []Deal{}
	}
	for i := range s.Items {
		s.Items[i].Normalize()
	}
}

// Validate checks snapshot-level invariants: pairwise-unique identifiers
// and referential integrity for every child record.
func (s *Snapshot) Validate() error {
	ids := make(map[string]struct{}, len(s.Items))
	for i := range s.Items {
		d := &s.Items[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := ids[d.ID]; dup {
			return errDuplicateID(d.ID)
		}
		ids[d.ID] = struct{}{}
	}
	for i := range s.Items {
		d := &s.Items[i]
		if d.ParentID == nil {
			continue
		}
		if _, ok := ids[*d.ParentID]; !ok {
			return errDanglingParent(d.ID, *d.ParentID)
		}
	}
	return nil
}
