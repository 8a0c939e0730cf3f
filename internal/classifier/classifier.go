package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/cache"
	"github.com/sells-group/deal-tracker/internal/costopt"
	"github.com/sells-group/deal-tracker/internal/model"
	"github.com/sells-group/deal-tracker/internal/resilience"
	"github.com/sells-group/deal-tracker/internal/watchlist"
	"github.com/sells-group/deal-tracker/pkg/anthropic"
)

// Framework is a validated pass-1 result: one top-level bilateral
// agreement extracted from a page.
type Framework struct {
	Title         string           `json:"title"`
	Summary       string           `json:"summary"`
	CountryCode   string           `json:"country_code"`
	DateSigned    string           `json:"date_signed"`
	Signatories   []string         `json:"signatories"`
	Sectors       []string         `json:"sectors"`
	TotalValueUSD *int64           `json:"total_value_usd"`
	Status        model.DealStatus `json:"status"`
}

// Commitment is a validated pass-2 result: one corporate commitment
// extracted from a page, tied to a framework by country at assembly.
type Commitment struct {
	Title             string           `json:"title"`
	Summary           string           `json:"summary"`
	Parties           []string         `json:"parties"`
	DealValueUSD      *int64           `json:"deal_value_usd"`
	Sector            string           `json:"sector"`
	CommitmentDetails string           `json:"commitment_details"`
	Status            model.DealStatus `json:"status"`
}

// PageResult is everything classification extracted from one candidate.
// Framework is nil when pass 1 judged the page irrelevant; a page can
// still carry commitments (a commitment announcement referencing a
// framework signed elsewhere).
type PageResult struct {
	Candidate   model.RawCandidate
	Framework   *Framework
	CountryCode string // pass-2 country, used for parent linking
	Commitments []Commitment
}

// ClassificationError is the per-candidate failure outcome. Reason is
// what lands in the run ledger; Raw preserves the model output for the
// log.
type ClassificationError struct {
	Source string
	Reason string
	Raw    string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %s", e.Source, e.Reason)
}

// Classifier is the sole caller of the LLM backend. It is constructed
// with a client only for runs that actually classify; dry-run and
// fetch-only paths never build one.
type Classifier struct {
	client    anthropic.Client
	store     *cache.Store
	stats     *model.CostOptimization
	maxTokens int64
	retry     resilience.RetryConfig
}

// New creates a Classifier. maxTokens bounds each response.
func New(client anthropic.Client, store *cache.Store, stats *model.CostOptimization, maxTokens int64) *Classifier {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "classify")
	return &Classifier{
		client:    client,
		store:     store,
		stats:     stats,
		maxTokens: maxTokens,
		retry:     retry,
	}
}

// frameworkResponse is the raw pass-1 wire shape.
type frameworkResponse struct {
	IsRelevant bool `json:"is_relevant"`
	Framework  *struct {
		Title         string   `json:"title"`
		Summary       string   `json:"summary"`
		CountryCode   string   `json:"country_code"`
		DateSigned    *string  `json:"date_signed"`
		Signatories   []string `json:"signatories"`
		Sectors       []string `json:"sectors"`
		TotalValueUSD *int64   `json:"total_value_usd"`
		Status        string   `json:"status"`
	} `json:"framework"`
}

// commitmentResponse is the raw pass-2 wire shape.
type commitmentResponse struct {
	CountryCode *string `json:"country_code"`
	Commitments []struct {
		Title             string   `json:"title"`
		Summary           string   `json:"summary"`
		Parties           []string `json:"parties"`
		DealValueUSD      *int64   `json:"deal_value_usd"`
		Sector            string   `json:"sector"`
		CommitmentDetails string   `json:"commitment_details"`
		Status            string   `json:"status"`
	} `json:"commitments"`
}

// ClassifyItem runs both passes for one shaped candidate. Cached
// responses preloaded by the cost pipeline short-circuit the API; fresh
// responses that parse as JSON are written back to the classification
// cache before schema validation, so a response that fails validation
// is not paid for twice. A response that is not JSON at all is never
// cached — the next run retries it with a fresh call. Failures are
// returned, never thrown across items.
func (c *Classifier) ClassifyItem(ctx context.Context, it costopt.Item, w *watchlist.Watchlist) (*PageResult, *ClassificationError) {
	res := &PageResult{Candidate: it.Candidate}

	fwRaw, cerr := c.response(ctx, it, "framework", frameworkSystem, it.FrameworkKey, it.CachedFramework)
	if cerr != nil {
		return nil, cerr
	}
	var fw frameworkResponse
	if err := json.Unmarshal(fwRaw, &fw); err != nil {
		return nil, c.invalid(it, fwRaw, "framework response is not valid JSON")
	}
	if fw.IsRelevant {
		f, reason := validateFramework(fw, w)
		if reason != "" {
			return nil, c.invalid(it, fwRaw, reason)
		}
		res.Framework = f
	}

	cmRaw, cerr := c.response(ctx, it, "commitment", commitmentSystem, it.CommitmentKey, it.CachedCommitment)
	if cerr != nil {
		return nil, cerr
	}
	var cm commitmentResponse
	if err := json.Unmarshal(cmRaw, &cm); err != nil {
		return nil, c.invalid(it, cmRaw, "commitment response is not valid JSON")
	}
	country, commitments, reason := validateCommitments(cm, w)
	if reason != "" {
		return nil, c.invalid(it, cmRaw, reason)
	}
	res.CountryCode = country
	res.Commitments = commitments

	if res.CountryCode == "" && res.Framework != nil {
		res.CountryCode = res.Framework.CountryCode
	}
	return res, nil
}

func (c *Classifier) invalid(it costopt.Item, raw []byte, reason string) *ClassificationError {
	zap.L().Error("classification validation failed",
		zap.String("url", it.Candidate.SourceURL),
		zap.String("reason", reason),
		zap.ByteString("raw", raw))
	return &ClassificationError{
		Source: it.Candidate.SourceURL,
		Reason: "validation: " + reason,
		Raw:    string(raw),
	}
}

// response returns the raw JSON for one pass, from the preloaded cache
// entry or a fresh API call.
func (c *Classifier) response(ctx context.Context, it costopt.Item, phase, system, key string, cached json.RawMessage) (json.RawMessage, *ClassificationError) {
	if cached != nil {
		return cached, nil
	}
	if c.client == nil {
		return nil, &ClassificationError{
			Source: it.Candidate.SourceURL,
			Reason: "no classification backend configured",
		}
	}

	req := anthropic.MessageRequest{
		Model:     it.Model,
		MaxTokens: c.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(system),
		Messages:  []anthropic.Message{{Role: "user", Content: it.Text}},
	}
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, &ClassificationError{
			Source: it.Candidate.SourceURL,
			Reason: fmt.Sprintf("%s call failed: %v", phase, err),
		}
	}
	c.stats.NewAPICalls++
	resp.Usage.LogUsage(it.Model, phase)

	raw := []byte(stripFences(messageText(resp)))
	if !json.Valid(raw) {
		zap.L().Warn("model response is not JSON, not caching",
			zap.String("key", key),
			zap.String("url", it.Candidate.SourceURL))
		return raw, nil
	}
	if err := c.store.Put(cache.StageClassification, key, raw); err != nil {
		zap.L().Warn("classification cache write failed", zap.String("key", key), zap.Error(err))
	}
	return raw, nil
}

func messageText(resp *anthropic.MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// stripFences removes a markdown code fence the model sometimes wraps
// around the JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func validateFramework(fw frameworkResponse, w *watchlist.Watchlist) (*Framework, string) {
	if fw.Framework == nil {
		return nil, "relevant page missing framework object"
	}
	d := fw.Framework
	if strings.TrimSpace(d.Title) == "" {
		return nil, "framework missing required field title"
	}
	if strings.TrimSpace(d.Summary) == "" {
		return nil, "framework missing required field summary"
	}
	if !w.HasCode(d.CountryCode) {
		return nil, fmt.Sprintf("framework country %q is not on the watchlist", d.CountryCode)
	}
	status, ok := parseStatus(d.Status)
	if !ok {
		return nil, fmt.Sprintf("framework status %q is not a known status", d.Status)
	}

	f := &Framework{
		Title:         d.Title,
		Summary:       d.Summary,
		CountryCode:   d.CountryCode,
		Signatories:   d.Signatories,
		Sectors:       d.Sectors,
		TotalValueUSD: d.TotalValueUSD,
		Status:        status,
	}
	if d.DateSigned != nil {
		f.DateSigned = *d.DateSigned
	}
	return f, ""
}

func validateCommitments(cm commitmentResponse, w *watchlist.Watchlist) (string, []Commitment, string) {
	country := ""
	if cm.CountryCode != nil && *cm.CountryCode != "" {
		if !w.HasCode(*cm.CountryCode) {
			return "", nil, fmt.Sprintf("commitment country %q is not on the watchlist", *cm.CountryCode)
		}
		country = *cm.CountryCode
	}
	if len(cm.Commitments) > 0 && country == "" {
		return "", nil, "commitments present but country_code missing"
	}

	out := make([]Commitment, 0, len(cm.Commitments))
	for i, d := range cm.Commitments {
		if strings.TrimSpace(d.Title) == "" {
			return "", nil, fmt.Sprintf("commitment %d missing required field title", i)
		}
		status, ok := parseStatus(d.Status)
		if !ok {
			return "", nil, fmt.Sprintf("commitment %d status %q is not a known status", i, d.Status)
		}
		out = append(out, Commitment{
			Title:             d.Title,
			Summary:           d.Summary,
			Parties:           d.Parties,
			DealValueUSD:      d.DealValueUSD,
			Sector:            d.Sector,
			CommitmentDetails: d.CommitmentDetails,
			Status:            status,
		})
	}
	return country, out, ""
}

// parseStatus maps a model-reported status onto the Deal status enum.
// An absent status defaults to ACTIVE, matching how announcement pages
// describe deals already in force.
func parseStatus(s string) (model.DealStatus, bool) {
	if s == "" {
		return model.DealStatusActive, true
	}
	st := model.DealStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range model.AllDealStatuses() {
		if st == known {
			return st, true
		}
	}
	return st, false
}
