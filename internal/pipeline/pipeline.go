// Package pipeline orchestrates a full tracker run: discover candidates
// from every government source, shape them through the cost stages,
// classify them, assemble the deal hierarchy, and write the snapshot.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-tracker/internal/cache"
	"github.com/sells-group/deal-tracker/internal/classifier"
	"github.com/sells-group/deal-tracker/internal/config"
	"github.com/sells-group/deal-tracker/internal/cost"
	"github.com/sells-group/deal-tracker/internal/costopt"
	"github.com/sells-group/deal-tracker/internal/model"
	"github.com/sells-group/deal-tracker/internal/scraper"
	"github.com/sells-group/deal-tracker/internal/watchlist"
	"github.com/sells-group/deal-tracker/pkg/anthropic"
)

// State tracks run progression. Item-scoped failures never change the
// state; only a missing credential or an unwritable snapshot aborts.
type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateFetching    State = "fetching"
	StateFiltering   State = "filtering"
	StateClassifying State = "classifying"
	StateAssembling  State = "assembling"
	StateWriting     State = "writing"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Options are the per-invocation toggles. The zero value is a normal
// classifying run with every cost stage enabled.
type Options struct {
	DryRun       bool
	FetchOnly    bool
	Source       string // restrict to one scraper by name
	Country      string // restrict to one watchlist key
	NoPrefilter  bool
	FullText     bool
	Premium      bool
	Model        string // explicit model override
	Batch        bool
	CollectBatch bool
	Wait         bool   // with CollectBatch: poll until the batch ends instead of erroring
	MaxItems     int    // 0 uses the configured cap, negative disables it
	OutPath      string
}

// Runner runs the pipeline. Construct one per invocation; the client is
// nil for runs that never classify.
type Runner struct {
	cfg    *config.Config
	fetch  scraper.Fetcher
	store  *cache.Store
	watch  *watchlist.Watchlist
	client anthropic.Client
	calc   *cost.Calculator

	mu    sync.Mutex
	state State
}

// New creates a Runner over the given dependencies.
func New(cfg *config.Config, fetch scraper.Fetcher, store *cache.Store, watch *watchlist.Watchlist, client anthropic.Client) *Runner {
	return &Runner{
		cfg:    cfg,
		fetch:  fetch,
		store:  store,
		watch:  watch,
		client: client,
		calc:   cost.NewCalculator(cost.DefaultRates()),
		state:  StateIdle,
	}
}

// State returns the current run state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	zap.L().Debug("pipeline state", zap.String("state", string(s)))
}

func (r *Runner) abort(err error) (*model.Snapshot, error) {
	r.setState(StateAborted)
	return nil, err
}

// Run executes one full pipeline pass and returns the snapshot it wrote.
// Dry runs return the planned meta without touching the network or disk.
func (r *Runner) Run(ctx context.Context, opts Options) (*model.Snapshot, error) {
	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID))

	watch := r.watch
	if opts.Country != "" {
		var err error
		watch, err = watch.Filter(opts.Country)
		if err != nil {
			return r.abort(err)
		}
	}

	modelName := r.resolveModel(opts)
	capN, capPtr := r.resolveCap(opts)

	scrapers := r.scrapers(watch, opts.Source)
	if len(scrapers) == 0 {
		return r.abort(eris.Errorf("unknown source %q", opts.Source))
	}

	stats := model.CostOptimization{
		PrefilterEnabled:  !opts.NoPrefilter,
		TruncationEnabled: !opts.FullText,
		ModelUsed:         modelName,
		BatchMode:         opts.Batch,
	}
	var ledger []model.ErrorRecord

	if opts.DryRun {
		return r.dryRun(log, scrapers, watch, modelName, capPtr, runID, &stats)
	}

	// Classifying runs need the credential before any network work starts.
	needsClassify := !opts.FetchOnly
	if needsClassify && r.client == nil {
		return r.abort(eris.New("ANTHROPIC_API_KEY is not set; export it, or use --dry-run / --fetch-only"))
	}

	cls := classifier.New(r.client, r.store, &stats, r.cfg.Anthropic.MaxOutputTokens)

	if opts.CollectBatch && !opts.FetchOnly {
		if err := r.collectBatch(ctx, log, cls, opts.Wait); err != nil {
			return r.abort(err)
		}
	}

	// Discovery. Scrapers run in parallel; a failed source becomes a
	// ledger entry, not a failed run.
	r.setState(StateDiscovering)
	candidates, sources, discErrs := r.discover(ctx, log, scrapers)
	ledger = append(ledger, discErrs...)
	scanned := len(candidates)
	log.Info("discovery complete",
		zap.Int("candidates", scanned),
		zap.Strings("sources", sources))

	r.setState(StateFetching)
	admitted := candidates
	if capN > 0 && len(admitted) > capN {
		admitted = admitted[:capN]
		log.Info("cap applied", zap.Int("cap", capN), zap.Int("dropped", scanned-capN))
	}

	if opts.FetchOnly {
		return r.finishFetchOnly(log, runID, admitted, scanned, capPtr, watch, sources, &stats, ledger)
	}

	// Cost stages.
	r.setState(StateFiltering)
	pipe := r.costPipeline(opts, watch, modelName, &stats)
	var shaped []costopt.Item
	for _, cand := range admitted {
		it := costopt.Item{Candidate: cand, Text: r.textFor(cand)}
		it, skip := pipe.Apply(it)
		if skip != nil {
			ledger = append(ledger, model.ErrorRecord{Source: cand.SourceURL, Reason: skip.Reason})
			continue
		}
		shaped = append(shaped, it)
	}

	// Classification.
	r.setState(StateClassifying)
	if opts.Batch {
		entry, err := r.submitBatch(ctx, log, cls, shaped, modelName)
		if err != nil {
			return r.abort(err)
		}
		if entry != nil {
			ledger = append(ledger, *entry)
		}
	}
	var results []classifier.PageResult
	for _, it := range shaped {
		if it.Batch {
			continue // awaiting batch results
		}
		res, cerr := cls.ClassifyItem(ctx, it, watch)
		if cerr != nil {
			log.Warn("classification failed",
				zap.String("url", cerr.Source),
				zap.String("reason", cerr.Reason))
			ledger = append(ledger, model.ErrorRecord{Source: cerr.Source, Reason: cerr.Reason})
			continue
		}
		results = append(results, *res)
	}

	// Assembly.
	r.setState(StateAssembling)
	items, asmErrs := Assemble(results, watch)
	ledger = append(ledger, asmErrs...)

	// Snapshot.
	r.setState(StateWriting)
	stats.EstimatedCostUSD = r.calc.EstimateRun(modelName, opts.Batch, stats.NewAPICalls)
	snap := &model.Snapshot{
		Meta:  r.meta(runID, scanned, len(results), capPtr, watch, sources, stats, ledger),
		Items: items,
	}
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return r.abort(eris.Wrap(err, "pipeline: snapshot validation"))
	}

	outPath := opts.OutPath
	if outPath == "" {
		outPath = r.cfg.Output.Path
	}
	if err := WriteSnapshot(outPath, snap); err != nil {
		return r.abort(err)
	}

	r.setState(StateDone)
	log.Info("run complete",
		zap.String("out", outPath),
		zap.Int("deals_scanned", scanned),
		zap.Int("deals_processed", len(results)),
		zap.Int("items", len(items)),
		zap.Int("errors", len(ledger)),
		zap.Int("cache_hits", stats.CacheHits),
		zap.Int("new_api_calls", stats.NewAPICalls),
		zap.Float64("estimated_cost_usd", stats.EstimatedCostUSD))
	return snap, nil
}

func (r *Runner) resolveModel(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	if opts.Premium {
		return r.cfg.Anthropic.PremiumModel
	}
	return r.cfg.Anthropic.DefaultModel
}

func (r *Runner) resolveCap(opts Options) (int, *int) {
	capN := r.cfg.Pipeline.MaxItems
	if opts.MaxItems != 0 {
		capN = opts.MaxItems
	}
	if capN <= 0 {
		return 0, nil
	}
	return capN, &capN
}

func (r *Runner) scrapers(watch *watchlist.Watchlist, only string) []scraper.Scraper {
	base := scraper.Base{Fetch: r.fetch, Cache: r.store, Watch: watch}
	all := []scraper.Scraper{
		scraper.NewFederalRegister(base, r.cfg.Sources.FederalRegister, r.cfg.Pipeline.DateRangeStart),
		scraper.NewWhiteHouse(base, r.cfg.Sources.WhiteHouse),
		scraper.NewCommerce(base, r.cfg.Sources.Commerce),
		scraper.NewUSTR(base, r.cfg.Sources.USTR),
	}
	if only == "" {
		return all
	}
	for _, s := range all {
		if s.Name() == only {
			return []scraper.Scraper{s}
		}
	}
	return nil
}

// discover fans the scrapers out and flattens their candidates back in
// declaration order, so identifier assignment is stable across runs.
// Cross-source duplicates (the same URL syndicated twice) keep the first
// occurrence.
func (r *Runner) discover(ctx context.Context, log *zap.Logger, scrapers []scraper.Scraper) ([]model.RawCandidate, []string, []model.ErrorRecord) {
	found := make([][]model.RawCandidate, len(scrapers))
	failures := make([]error, len(scrapers))

	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range scrapers {
		i, sc := i, sc
		g.Go(func() error {
			cands, err := sc.Discover(gctx)
			if err != nil {
				failures[i] = err
				return nil
			}
			found[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	var (
		out     []model.RawCandidate
		sources []string
		errs    []model.ErrorRecord
		seen    = make(map[string]bool)
	)
	for i, sc := range scrapers {
		if failures[i] != nil {
			log.Warn("source failed",
				zap.String("source", sc.Name()),
				zap.Error(failures[i]))
			errs = append(errs, model.ErrorRecord{Source: sc.Name(), Reason: failures[i].Error()})
			continue
		}
		sources = append(sources, sc.Name())
		for _, c := range found[i] {
			if seen[c.SourceURL] {
				continue
			}
			seen[c.SourceURL] = true
			out = append(out, c)
		}
	}
	return out, sources, errs
}

func (r *Runner) costPipeline(opts Options, watch *watchlist.Watchlist, modelName string, stats *model.CostOptimization) *costopt.Pipeline {
	var stages []costopt.Stage
	if !opts.NoPrefilter {
		stages = append(stages, costopt.Prefilter(watch, stats))
	}
	if !opts.FullText {
		stages = append(stages, costopt.Truncate(r.cfg.Anthropic.MaxInputTokens, r.cfg.Keywords.All(), stats))
	}
	stages = append(stages,
		costopt.SelectModel(modelName, stats),
		costopt.CacheLookup(r.store, classifier.FrameworkPromptVersion, classifier.CommitmentPromptVersion, stats),
	)
	if opts.Batch {
		stages = append(stages, costopt.MarkBatch(stats))
	}
	return costopt.NewPipeline(stages...)
}

// textFor returns the text the classifier will see: the cleaned article
// text cached during discovery, or the title and snippet when the page
// was never fetched (Federal Register abstracts, cold caches).
func (r *Runner) textFor(c model.RawCandidate) string {
	if raw, ok := r.store.Get(cache.StageExtracted, cache.URLKey(c.SourceURL)); ok {
		return string(raw)
	}
	return strings.TrimSpace(c.Title + "\n\n" + c.Snippet)
}

func (r *Runner) submitBatch(ctx context.Context, log *zap.Logger, cls *classifier.Classifier, shaped []costopt.Item, modelName string) (*model.ErrorRecord, error) {
	resp, n, err := cls.SubmitBatch(ctx, shaped)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: submit batch")
	}
	if n == 0 {
		log.Info("batch mode: everything already cached, nothing to submit")
		return nil, nil
	}
	st := &classifier.BatchState{
		BatchID:     resp.ID,
		Model:       modelName,
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
		Requests:    n,
	}
	if err := SaveBatchState(r.cfg.Output.BatchState, st); err != nil {
		return nil, err
	}
	log.Info("batch submitted",
		zap.String("batch_id", resp.ID),
		zap.Int("requests", n))
	reason := fmt.Sprintf("%d requests submitted in batch %s; rerun with --collect-batch once it completes", n, resp.ID)
	return &model.ErrorRecord{Source: "batch", Reason: reason}, nil
}

func (r *Runner) collectBatch(ctx context.Context, log *zap.Logger, cls *classifier.Classifier, wait bool) error {
	st, err := LoadBatchState(r.cfg.Output.BatchState)
	if err != nil {
		return err
	}
	if wait {
		if err := cls.WaitBatch(ctx, st.BatchID); err != nil {
			return err
		}
	}
	stored, err := cls.CollectBatch(ctx, st.BatchID)
	if err != nil {
		return err
	}
	log.Info("batch collected",
		zap.String("batch_id", st.BatchID),
		zap.Int("stored", stored))
	return ClearBatchState(r.cfg.Output.BatchState)
}

func (r *Runner) dryRun(log *zap.Logger, scrapers []scraper.Scraper, watch *watchlist.Watchlist, modelName string, capPtr *int, runID string, stats *model.CostOptimization) (*model.Snapshot, error) {
	names := make([]string, 0, len(scrapers))
	for _, s := range scrapers {
		names = append(names, s.Name())
	}
	log.Info("dry run",
		zap.Strings("sources", names),
		zap.Strings("countries", watch.Codes()),
		zap.String("model", modelName),
		zap.Intp("max_items", capPtr))

	snap := &model.Snapshot{Meta: r.meta(runID, 0, 0, capPtr, watch, names, *stats, nil)}
	snap.Normalize()
	r.setState(StateDone)
	return snap, nil
}

func (r *Runner) finishFetchOnly(log *zap.Logger, runID string, admitted []model.RawCandidate, scanned int, capPtr *int, watch *watchlist.Watchlist, sources []string, stats *model.CostOptimization, ledger []model.ErrorRecord) (*model.Snapshot, error) {
	raw := &RawSnapshot{
		Meta:     r.meta(runID, scanned, 0, capPtr, watch, sources, *stats, ledger),
		RawDeals: admitted,
	}
	if raw.RawDeals == nil {
		raw.RawDeals = []model.RawCandidate{}
	}
	if err := WriteRaw(r.cfg.Output.RawPath, raw); err != nil {
		return r.abort(err)
	}
	r.setState(StateDone)
	log.Info("fetch-only run complete",
		zap.String("out", r.cfg.Output.RawPath),
		zap.Int("raw_deals", len(raw.RawDeals)))
	snap := &model.Snapshot{Meta: raw.Meta}
	snap.Normalize()
	return snap, nil
}

func (r *Runner) meta(runID string, scanned, processed int, capPtr *int, watch *watchlist.Watchlist, sources []string, stats model.CostOptimization, ledger []model.ErrorRecord) model.RunMeta {
	now := time.Now().UTC()
	return model.RunMeta{
		RunID:            runID,
		GeneratedAt:      now.Format(time.RFC3339),
		DealsScanned:     scanned,
		DealsProcessed:   processed,
		MaxItemsCap:      capPtr,
		DateRangeStart:   r.cfg.Pipeline.DateRangeStart,
		DateRangeEnd:     now.Format("2006-01-02"),
		ScraperVersion:   config.ScraperVersion,
		CountriesTracked: watch.Codes(),
		SourcesScraped:   sources,
		CostOptimization: stats,
		Errors:           ledger,
	}
}
