package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-tracker/internal/cache"
	"github.com/sells-group/deal-tracker/internal/config"
	"github.com/sells-group/deal-tracker/internal/fetcher"
	"github.com/sells-group/deal-tracker/internal/model"
	"github.com/sells-group/deal-tracker/internal/watchlist"
	"github.com/sells-group/deal-tracker/pkg/anthropic"
)

const testModel = "claude-haiku-4-5-20251001"

const stubFrameworkJSON = `{
	"is_relevant": true,
	"framework": {
		"title": "US-UK Technology Prosperity Deal",
		"summary": "Bilateral technology cooperation framework.",
		"country_code": "GBR",
		"date_signed": "2025-09-18",
		"signatories": ["United States", "United Kingdom"],
		"sectors": ["AI", "Nuclear Energy"],
		"total_value_usd": null,
		"status": "ACTIVE"
	}
}`

const stubCommitmentsJSON = `{
	"country_code": "GBR",
	"commitments": [
		{
			"title": "Acme data center buildout",
			"summary": "Acme commits to UK data centers.",
			"parties": ["Acme Corp"],
			"deal_value_usd": 36200000000,
			"sector": "Cloud Infrastructure",
			"commitment_details": "Five sites over four years.",
			"status": "PENDING"
		}
	]
}`

// dealStubResponder routes a request to a canned response by pass
// (framework prompts mention is_relevant) and by page content.
func dealStubResponder(system, content string) string {
	isFramework := strings.Contains(system, "is_relevant")
	switch {
	case strings.Contains(content, "Prosperity Deal"):
		if isFramework {
			return stubFrameworkJSON
		}
		return `{"country_code": null, "commitments": []}`
	case strings.Contains(content, "committed"):
		if isFramework {
			return `{"is_relevant": false, "framework": null}`
		}
		return stubCommitmentsJSON
	default:
		if isFramework {
			return `{"is_relevant": false, "framework": null}`
		}
		return `{"country_code": null, "commitments": []}`
	}
}

type stubClient struct {
	mu      sync.Mutex
	calls   int
	respond func(system, content string) string

	batchResp    *anthropic.BatchResponse
	batchCreated *anthropic.BatchRequest
	results      []anthropic.BatchResultItem
}

func (s *stubClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	system := ""
	if len(req.System) > 0 {
		system = req.System[0].Text
	}
	content := ""
	if len(req.Messages) > 0 {
		content = req.Messages[0].Content
	}
	respond := s.respond
	if respond == nil {
		respond = dealStubResponder
	}
	return &anthropic.MessageResponse{
		ID:      "msg_test",
		Content: []anthropic.ContentBlock{{Type: "text", Text: respond(system, content)}},
	}, nil
}

func (s *stubClient) CreateBatch(_ context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCreated = &req
	return s.batchResp, nil
}

func (s *stubClient) GetBatch(context.Context, string) (*anthropic.BatchResponse, error) {
	return s.batchResp, nil
}

func (s *stubClient) GetBatchResults(context.Context, string) (anthropic.BatchResultIterator, error) {
	return &sliceIterator{items: s.results, idx: -1}, nil
}

type sliceIterator struct {
	items []anthropic.BatchResultItem
	idx   int
}

func (i *sliceIterator) Next() bool {
	if i.idx+1 < len(i.items) {
		i.idx++
		return true
	}
	return false
}
func (i *sliceIterator) Item() anthropic.BatchResultItem { return i.items[i.idx] }
func (i *sliceIterator) Err() error                      { return nil }
func (i *sliceIterator) Close() error                    { return nil }

const (
	frameworkPath  = "/fact-sheets/2025/09/us-uk-technology-prosperity-deal/"
	commitmentPath = "/articles/2025/09/uk-investment-commitments/"
)

// dealServer serves a one-page White House style listing with a
// framework fact sheet and a commitments article.
func dealServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/fact-sheets/page/1/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<html><body><main>
			<a href="%s%s">Fact Sheet: United States and United Kingdom Sign Technology Prosperity Deal</a>
			<a href="%s%s">United Kingdom Investment Commitments Announced Under Technology Pact</a>
			<a href="/fact-sheets/page/2/">Next</a>
		</main></body></html>`, srv.URL, frameworkPath, srv.URL, commitmentPath)
	})
	mux.HandleFunc("/articles/page/1/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>No articles this week.</p></body></html>`)
	})
	mux.HandleFunc(frameworkPath, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><article>
			<h1>Technology Prosperity Deal</h1>
			<p>The United States and the United Kingdom signed the Technology Prosperity Deal,
			covering AI, quantum computing, and civil nuclear cooperation.</p>
		</article></body></html>`)
	})
	mux.HandleFunc(commitmentPath, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><article>
			<h1>Investment Commitments</h1>
			<p>Acme Corp committed $36.2 billion to build data centers across the United Kingdom.</p>
		</article></body></html>`)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, srvURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			DefaultModel:    testModel,
			PremiumModel:    "claude-opus-4-6",
			MaxInputTokens:  800,
			MaxOutputTokens: 2048,
		},
		Cache: config.CacheConfig{Dir: filepath.Join(dir, "cache")},
		Output: config.OutputConfig{
			Path:       filepath.Join(dir, "deals.json"),
			RawPath:    filepath.Join(dir, "deals.raw.json"),
			BatchState: filepath.Join(dir, "batch.json"),
		},
		Pipeline: config.PipelineConfig{MaxItems: 50, DateRangeStart: "2025-01-01"},
		Sources: config.SourcesConfig{
			WhiteHouse: config.ListingSourceConfig{
				FactSheetsURL:    srvURL + "/fact-sheets/page/%d/",
				PressReleasesURL: srvURL + "/articles/page/%d/",
				MaxPages:         1,
			},
		},
		Keywords: config.KeywordsConfig{
			Tech: []string{"technology", "AI"},
			Deal: []string{"prosperity", "investment"},
		},
	}
}

func testRunner(t *testing.T, cfg *config.Config, client anthropic.Client) *Runner {
	t.Helper()
	f := fetcher.New(fetcher.Options{
		RequestDelay: time.Millisecond,
		BackoffStart: time.Millisecond,
		Timeout:      5 * time.Second,
	})
	watch := watchlist.New(watchlist.DefaultCountries(), cfg.Keywords.All())
	return New(cfg, f, cache.New(cfg.Cache.Dir), watch, client)
}

func TestRunEndToEnd(t *testing.T) {
	srv := dealServer(t)
	cfg := testConfig(t, srv.URL)
	client := &stubClient{}
	r := testRunner(t, cfg, client)

	snap, err := r.Run(context.Background(), Options{Source: "whitehouse"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, r.State())

	assert.Equal(t, 2, snap.Meta.DealsScanned)
	assert.Equal(t, 2, snap.Meta.DealsProcessed)
	assert.Equal(t, []string{"whitehouse"}, snap.Meta.SourcesScraped)
	assert.Equal(t, []string{"GBR", "JPN", "KOR"}, snap.Meta.CountriesTracked)
	assert.Empty(t, snap.Meta.Errors)

	stats := snap.Meta.CostOptimization
	assert.Equal(t, testModel, stats.ModelUsed)
	assert.True(t, stats.PrefilterEnabled)
	assert.Equal(t, 4, stats.NewAPICalls)
	assert.Equal(t, 0, stats.CacheHits)
	assert.Greater(t, stats.EstimatedCostUSD, 0.0)

	require.Len(t, snap.Items, 2)
	parent := snap.Items[0]
	assert.Equal(t, "tpd-gbr-1", parent.ID)
	assert.Nil(t, parent.ParentID)
	assert.Equal(t, model.DealTypeTrade, parent.Type)
	assert.Equal(t, "2025-09-01", parent.Date) // from the URL path
	assert.Nil(t, parent.DealValueUSD)

	child := snap.Items[1]
	assert.Equal(t, "tpd-gbr-1-001", child.ID)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, "tpd-gbr-1", *child.ParentID)
	require.NotNil(t, child.DealValueUSD)
	assert.Equal(t, int64(36200000000), *child.DealValueUSD)

	// The snapshot on disk matches what Run returned.
	b, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	var onDisk model.Snapshot
	require.NoError(t, json.Unmarshal(b, &onDisk))
	assert.Equal(t, snap.Meta.RunID, onDisk.Meta.RunID)
	require.Len(t, onDisk.Items, 2)
	assert.Contains(t, string(b), `"deal_value_usd": null`)
}

func TestRunSecondRunServedFromCache(t *testing.T) {
	srv := dealServer(t)
	cfg := testConfig(t, srv.URL)

	first := testRunner(t, cfg, &stubClient{})
	snap1, err := first.Run(context.Background(), Options{Source: "whitehouse"})
	require.NoError(t, err)

	client := &stubClient{}
	second := testRunner(t, cfg, client)
	snap2, err := second.Run(context.Background(), Options{Source: "whitehouse"})
	require.NoError(t, err)

	assert.Equal(t, 0, client.calls)
	assert.Equal(t, 0, snap2.Meta.CostOptimization.NewAPICalls)
	assert.Equal(t, 4, snap2.Meta.CostOptimization.CacheHits)

	// Identifier assignment is stable across runs.
	require.Len(t, snap2.Items, len(snap1.Items))
	for i := range snap1.Items {
		assert.Equal(t, snap1.Items[i].ID, snap2.Items[i].ID)
	}
}

func TestRunCapLimitsProcessing(t *testing.T) {
	srv := dealServer(t)
	cfg := testConfig(t, srv.URL)
	r := testRunner(t, cfg, &stubClient{})

	snap, err := r.Run(context.Background(), Options{Source: "whitehouse", MaxItems: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Meta.DealsScanned)
	assert.Equal(t, 1, snap.Meta.DealsProcessed)
	require.NotNil(t, snap.Meta.MaxItemsCap)
	assert.Equal(t, 1, *snap.Meta.MaxItemsCap)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "tpd-gbr-1", snap.Items[0].ID)
}

func TestRunClassificationFailureIsItemScoped(t *testing.T) {
	srv := dealServer(t)
	cfg := testConfig(t, srv.URL)
	client := &stubClient{respond: func(system, content string) string {
		if strings.Contains(content, "committed") {
			return "this is not json"
		}
		return dealStubResponder(system, content)
	}}
	r := testRunner(t, cfg, client)

	snap, err := r.Run(context.Background(), Options{Source: "whitehouse"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, r.State())

	// The bad page lands in the ledger; the good one still ships.
	assert.Equal(t, 1, snap.Meta.DealsProcessed)
	require.Len(t, snap.Meta.Errors, 1)
	assert.Contains(t, snap.Meta.Errors[0].Source, commitmentPath)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "tpd-gbr-1", snap.Items[0].ID)

	_, err = os.Stat(cfg.Output.Path)
	require.NoError(t, err)
}

func TestRunDryRunNeedsNoCredentialAndWritesNothing(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	r := testRunner(t, cfg, nil)

	snap, err := r.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StateDone, r.State())

	assert.Equal(t, []string{"federal_register", "whitehouse", "commerce", "ustr"}, snap.Meta.SourcesScraped)
	assert.Empty(t, snap.Items)

	_, err = os.Stat(cfg.Output.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunFetchOnlyWritesRawCandidates(t *testing.T) {
	srv := dealServer(t)
	cfg := testConfig(t, srv.URL)
	r := testRunner(t, cfg, nil)

	snap, err := r.Run(context.Background(), Options{FetchOnly: true, Source: "whitehouse"})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Meta.DealsScanned)

	b, err := os.ReadFile(cfg.Output.RawPath)
	require.NoError(t, err)
	var raw RawSnapshot
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Len(t, raw.RawDeals, 2)
	assert.Equal(t, "whitehouse", raw.RawDeals[0].Source)

	_, err = os.Stat(cfg.Output.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunWithoutCredentialAborts(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	r := testRunner(t, cfg, nil)

	_, err := r.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
	assert.Equal(t, StateAborted, r.State())
}

func TestRunUnknownSource(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	r := testRunner(t, cfg, &stubClient{})

	_, err := r.Run(context.Background(), Options{Source: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source "nope"`)
}

func TestRunBatchSubmitThenCollect(t *testing.T) {
	srv := dealServer(t)
	cfg := testConfig(t, srv.URL)
	client := &stubClient{batchResp: &anthropic.BatchResponse{ID: "msgbatch_A", ProcessingStatus: "in_progress"}}

	submit := testRunner(t, cfg, client)
	snap, err := submit.Run(context.Background(), Options{Source: "whitehouse", Batch: true})
	require.NoError(t, err)

	assert.Empty(t, snap.Items)
	assert.True(t, snap.Meta.CostOptimization.BatchMode)
	assert.Equal(t, 2, snap.Meta.CostOptimization.Batched)
	require.NotNil(t, client.batchCreated)
	assert.Len(t, client.batchCreated.Requests, 4)

	require.Len(t, snap.Meta.Errors, 1)
	assert.Equal(t, "batch", snap.Meta.Errors[0].Source)
	assert.Contains(t, snap.Meta.Errors[0].Reason, "msgbatch_A")

	st, err := LoadBatchState(cfg.Output.BatchState)
	require.NoError(t, err)
	assert.Equal(t, "msgbatch_A", st.BatchID)

	// The batch completes; answer each request from the stub responder.
	for _, req := range client.batchCreated.Requests {
		text := dealStubResponder(req.Params.System[0].Text, req.Params.Messages[0].Content)
		client.results = append(client.results, anthropic.BatchResultItem{
			CustomID: req.CustomID,
			Type:     "succeeded",
			Message: &anthropic.MessageResponse{
				Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
			},
		})
	}
	client.batchResp.ProcessingStatus = "ended"

	collect := testRunner(t, cfg, client)
	snap2, err := collect.Run(context.Background(), Options{Source: "whitehouse", CollectBatch: true})
	require.NoError(t, err)

	assert.Equal(t, 4, snap2.Meta.CostOptimization.CacheHits)
	assert.Equal(t, 0, snap2.Meta.CostOptimization.NewAPICalls)
	require.Len(t, snap2.Items, 2)
	assert.Equal(t, "tpd-gbr-1", snap2.Items[0].ID)

	_, err = LoadBatchState(cfg.Output.BatchState)
	require.Error(t, err)
}
