package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// promptCacheTTL keeps the extraction system prompts warm long enough
// for a batch submitted right after the primer to read them.
const promptCacheTTL = "1h"

// BuildCachedSystemBlocks wraps a system prompt in a single block with a
// cache breakpoint. Both classification passes reuse their prompt across
// every page in a run, so all but the first request read the cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: promptCacheTTL,
			},
		},
	}
}

// PrimerRequest sends one small message to write the prompt cache before
// a batch is submitted, so the batched requests read it instead of each
// paying the cache write. The response itself is discardable.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
