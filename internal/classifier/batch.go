package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/cache"
	"github.com/sells-group/deal-tracker/internal/costopt"
	"github.com/sells-group/deal-tracker/pkg/anthropic"
)

// Batch custom IDs carry the classification cache key so that collected
// results can be written straight into the cache; a later run then sees
// them as ordinary cache hits.
const (
	frameworkIDPrefix  = "fw-"
	commitmentIDPrefix = "cm-"
)

// BatchState is persisted between the submitting run and the collecting
// run.
type BatchState struct {
	BatchID     string `json:"batch_id"`
	Model       string `json:"model"`
	SubmittedAt string `json:"submitted_at"`
	Requests    int    `json:"requests"`
}

// BuildBatchRequests returns one request per uncached pass across the
// batched items, deduplicated by cache key.
func (c *Classifier) BuildBatchRequests(items []costopt.Item) []anthropic.BatchRequestItem {
	var reqs []anthropic.BatchRequestItem
	seen := make(map[string]bool)

	add := func(id, system string, it costopt.Item) {
		if seen[id] {
			return
		}
		seen[id] = true
		reqs = append(reqs, anthropic.BatchRequestItem{
			CustomID: id,
			Params: anthropic.MessageRequest{
				Model:     it.Model,
				MaxTokens: c.maxTokens,
				System:    anthropic.BuildCachedSystemBlocks(system),
				Messages:  []anthropic.Message{{Role: "user", Content: it.Text}},
			},
		})
	}

	for _, it := range items {
		if !it.Batch {
			continue
		}
		if it.CachedFramework == nil {
			add(frameworkIDPrefix+it.FrameworkKey, frameworkSystem, it)
		}
		if it.CachedCommitment == nil {
			add(commitmentIDPrefix+it.CommitmentKey, commitmentSystem, it)
		}
	}
	return reqs
}

// SubmitBatch submits all uncached passes as one asynchronous batch. A
// primer request warms the prompt cache first, so the batched requests
// read the system prompt instead of re-writing it. Returns nil when
// nothing needs submitting.
func (c *Classifier) SubmitBatch(ctx context.Context, items []costopt.Item) (*anthropic.BatchResponse, int, error) {
	reqs := c.BuildBatchRequests(items)
	if len(reqs) == 0 {
		return nil, 0, nil
	}

	primer := anthropic.MessageRequest{
		Model:     reqs[0].Params.Model,
		MaxTokens: 16,
		System:    anthropic.BuildCachedSystemBlocks(frameworkSystem),
		Messages:  []anthropic.Message{{Role: "user", Content: "Acknowledge receipt of the instructions."}},
	}
	if _, err := anthropic.PrimerRequest(ctx, c.client, primer); err != nil {
		zap.L().Warn("prompt cache primer failed, submitting anyway", zap.Error(err))
	}

	resp, err := c.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: reqs})
	if err != nil {
		return nil, 0, eris.Wrap(err, "classifier: submit batch")
	}
	c.stats.NewAPICalls += len(reqs)

	zap.L().Info("batch submitted",
		zap.String("batch_id", resp.ID),
		zap.Int("requests", len(reqs)))
	return resp, len(reqs), nil
}

// WaitBatch blocks until the batch finishes processing, backing off
// between polls.
func (c *Classifier) WaitBatch(ctx context.Context, batchID string) error {
	_, err := anthropic.PollBatch(ctx, c.client, batchID)
	return err
}

// CollectBatch retrieves a previously submitted batch and writes every
// succeeded result into the classification cache under the key embedded
// in its custom ID. Results that are not JSON are skipped, leaving the
// page to a fresh call on the next run. Returns the number of cached
// results. A batch still processing is an error the caller reports, not
// a wait.
func (c *Classifier) CollectBatch(ctx context.Context, batchID string) (int, error) {
	batch, err := c.client.GetBatch(ctx, batchID)
	if err != nil {
		return 0, eris.Wrap(err, "classifier: collect batch")
	}
	if batch.ProcessingStatus != "ended" {
		return 0, eris.Errorf("classifier: batch %s is still %s, try again later", batchID, batch.ProcessingStatus)
	}

	iter, err := c.client.GetBatchResults(ctx, batchID)
	if err != nil {
		return 0, eris.Wrap(err, "classifier: collect batch")
	}
	collected, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return 0, eris.Wrap(err, "classifier: collect batch")
	}

	stored := 0
	for id, msg := range collected.Succeeded {
		key := strings.TrimPrefix(strings.TrimPrefix(id, frameworkIDPrefix), commitmentIDPrefix)
		if key == id {
			zap.L().Warn("batch result with unrecognized custom id", zap.String("custom_id", id))
			continue
		}
		raw := []byte(stripFences(messageText(msg)))
		if !json.Valid(raw) {
			zap.L().Warn("batch result is not JSON, not caching", zap.String("custom_id", id))
			continue
		}
		if err := c.store.Put(cache.StageClassification, key, raw); err != nil {
			zap.L().Warn("batch result cache write failed", zap.String("key", key), zap.Error(err))
			continue
		}
		stored++
	}

	zap.L().Info("batch collected",
		zap.String("batch_id", batchID),
		zap.Int("stored", stored),
		zap.Int("failed", len(collected.Failures)))
	return stored, nil
}
