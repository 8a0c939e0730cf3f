package costopt

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/cache"
	"github.com/sells-group/deal-tracker/internal/model"
	"github.com/sells-group/deal-tracker/internal/watchlist"
)

// SkipReasonPrefiltered is the ledger reason for candidates rejected by
// the pre-filter stage.
const SkipReasonPrefiltered = "prefiltered"

// Item is one candidate flowing through the cost stages toward the
// classifier. Stages shape its text and stamp routing decisions; they
// never mutate the underlying candidate.
type Item struct {
	Candidate model.RawCandidate
	Text      string // text that will be classified
	Model     string

	// Classification cache keys for the two passes, filled in by the
	// cache-lookup stage along with any cached responses.
	FrameworkKey     string
	CommitmentKey    string
	CachedFramework  json.RawMessage
	CachedCommitment json.RawMessage

	Batch bool
}

// Skip is returned by a stage that rejects an item. The reason lands in
// the run's error ledger.
type Skip struct {
	Reason string
}

// Stage is one cost-reduction step: it either passes the (possibly
// reshaped) item along or skips it.
type Stage func(Item) (Item, *Skip)

// Pipeline applies an ordered list of stages. Disabled stages are simply
// not part of the list, so composition mirrors the run's toggles.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Apply runs the item through every stage in order, stopping at the
// first skip.
func (p *Pipeline) Apply(it Item) (Item, *Skip) {
	for _, stage := range p.stages {
		var skip *Skip
		it, skip = stage(it)
		if skip != nil {
			return it, skip
		}
	}
	return it, nil
}

// Prefilter rejects candidates whose title and snippet match no
// watchlist keyword. Pure string matching, zero cost.
func Prefilter(w *watchlist.Watchlist, stats *model.CostOptimization) Stage {
	return func(it Item) (Item, *Skip) {
		if w.MatchKeyword(it.Candidate.Title + " " + it.Candidate.Snippet) {
			return it, nil
		}
		stats.PrefilterSkipped++
		zap.L().Debug("prefilter rejected",
			zap.String("title", it.Candidate.Title),
			zap.String("url", it.Candidate.SourceURL))
		return it, &Skip{Reason: SkipReasonPrefiltered}
	}
}

// Truncate caps the item's text at maxTokens using the smart excerpt in
// truncate.go.
func Truncate(maxTokens int, keywords []string, stats *model.CostOptimization) Stage {
	return func(it Item) (Item, *Skip) {
		reduced := TruncateText(it.Text, maxTokens, keywords)
		if len(reduced) < len(it.Text) {
			stats.Truncated++
		}
		it.Text = reduced
		return it, nil
	}
}

// SelectModel stamps the model every downstream call will use. The
// premium override is an explicit per-run choice made by the caller;
// this stage only records the outcome.
func SelectModel(modelName string, stats *model.CostOptimization) Stage {
	return func(it Item) (Item, *Skip) {
		it.Model = modelName
		stats.ModelUsed = modelName
		return it, nil
	}
}

// CacheLookup computes the classification cache keys for both passes
// and preloads any cached responses. Keys derive from the shaped text,
// the model, and the prompt version, so edited source text or a prompt
// bump invalidates naturally. An entry that is no longer valid JSON is
// a miss, so a corrupted file gets a fresh call instead of poisoning
// the item on every run. Each preloaded pass counts as one cache hit;
// the classifier counts the misses when it makes the real calls.
func CacheLookup(store *cache.Store, frameworkVersion, commitmentVersion string, stats *model.CostOptimization) Stage {
	return func(it Item) (Item, *Skip) {
		it.FrameworkKey = cache.ContentKey(it.Text, it.Model, frameworkVersion)
		it.CommitmentKey = cache.ContentKey(it.Text, it.Model, commitmentVersion)

		if store.GetJSON(cache.StageClassification, it.FrameworkKey, &it.CachedFramework) {
			stats.CacheHits++
		}
		if store.GetJSON(cache.StageClassification, it.CommitmentKey, &it.CachedCommitment) {
			stats.CacheHits++
		}
		return it, nil
	}
}

// MarkBatch flags the item for asynchronous batch submission. Items
// already satisfied from cache are not batched.
func MarkBatch(stats *model.CostOptimization) Stage {
	return func(it Item) (Item, *Skip) {
		if it.CachedFramework != nil && it.CachedCommitment != nil {
			return it, nil
		}
		it.Batch = true
		stats.Batched++
		return it, nil
	}
}
