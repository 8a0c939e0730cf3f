package model

import "github.com/rotisserie/eris"

// DealType categorizes a deal record.
type DealType string

const (
	DealTypeGovernment DealType = "GOVERNMENT"
	DealTypeBusiness   DealType = "BUSINESS"
	DealTypeTrade      DealType = "TRADE"
)

// AllDealTypes returns all defined deal types.
func AllDealTypes() []DealType {
	return []DealType{DealTypeGovernment, DealTypeBusiness, DealTypeTrade}
}

// DealStatus represents the lifecycle state of a deal.
type DealStatus string

const (
	DealStatusActive    DealStatus = "ACTIVE"
	DealStatusPending   DealStatus = "PENDING"
	DealStatusCompleted DealStatus = "COMPLETED"
	DealStatusCancelled DealStatus = "CANCELLED"
	DealStatusReported  DealStatus = "REPORTED"
)

// AllDealStatuses returns all defined deal statuses.
func AllDealStatuses() []DealStatus {
	return []DealStatus{
		DealStatusActive,
		DealStatusPending,
		DealStatusCompleted,
		DealStatusCancelled,
		DealStatusReported,
	}
}

// SourceDocument is a reference to an original source document
// (fact sheet, press release, announcement).
type SourceDocument struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Deal is the canonical structured record emitted by the classifier.
//
// A nil ParentID marks a top-level framework deal; a non-nil ParentID marks
// a child corporate commitment tied to that framework. Records are never
// mutated after creation within a run — the next run's snapshot supersedes
// them wholesale.
type Deal struct {
	ID                string           `json:"id"`
	ParentID          *string          `json:"parent_id"`
	SourceID          string           `json:"source_id,omitempty"`
	SourceURL         string           `json:"source_url"`
	Title             string           `json:"title"`
	Summary           string           `json:"summary"`
	Type              DealType         `json:"type"`
	Status            DealStatus       `json:"status"`
	Parties           []string         `json:"parties"`
	DealValueUSD      *int64           `json:"deal_value_usd"`
	Country           string           `json:"country"`
	Date              string           `json:"date"` // YYYY-MM-DD
	DateSigned        string           `json:"date_signed,omitempty"`
	Tags              []string         `json:"tags"`
	Sectors           []string         `json:"sectors"`
	Signatories       []string         `json:"signatories,omitempty"`
	SourceDocuments   []SourceDocument `json:"source_documents,omitempty"`
	CommitmentDetails string           `json:"commitment_details,omitempty"`
}

// IsParent reports whether this is a top-level framework deal.
func (d *Deal) IsParent() bool {
	return d.ParentID == nil
}

// Validate checks the structural contract for a single Deal.
// DealValueUSD is allowed to be nil (undisclosed) — that is distinct from
// zero and must survive to the output unchanged.
func (d *Deal) Validate() error {
	if d.ID == "" {
		return eris.New("deal: missing id")
	}
	if d.Title == "" {
		return eris.New("deal: missing title")
	}
	if d.SourceURL == "" {
		return eris.New("deal: missing source_url")
	}
	if !validDealType(d.Type) {
		return eris.Errorf("deal: invalid type %q", d.Type)
	}
	if !validDealStatus(d.Status) {
		return eris.Errorf("deal: invalid status %q", d.Status)
	}
	if d.Country == "" {
		return eris.New("deal: missing country")
	}
	if d.DealValueUSD != nil && *d.DealValueUSD < 0 {
		return eris.Errorf("deal: negative deal_value_usd %d", *d.DealValueUSD)
	}
	if d.ParentID != nil && *d.ParentID == "" {
		return eris.New("deal: empty parent_id (use null for framework deals)")
	}
	return nil
}

// Normalize replaces nil slices with empty ones so the JSON output never
// contains null where the contract requires an array.
func (d *Deal) Normalize() {
	if d.Parties == nil {
		d.Parties = []string{}
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.Sectors == nil {
		d.Sectors = []string{}
	}
}

func validDealType(t DealType) bool {
	for _, v := range AllDealTypes() {
		if v == t {
			return true
		}
	}
	return false
}

func validDealStatus(s DealStatus) bool {
	for _, v := range AllDealStatuses() {
		if v == s {
			return true
		}
	}
	return false
}
