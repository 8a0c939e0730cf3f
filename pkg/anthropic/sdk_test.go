package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:           "msg_cls_001",
		Model:        "claude-haiku-4-5-20251001",
		StopReason:   "end_turn",
		StopSequence: "STOP",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: `{"is_framework": true, "country_code": "GBR"}`},
			{Type: "text", Text: "trailing note"},
		},
		Usage: sdk.Usage{
			InputTokens:              100,
			OutputTokens:             50,
			CacheCreationInputTokens: 2000,
			CacheReadInputTokens:     3000,
		},
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_cls_001", resp.ID)
	assert.Equal(t, "claude-haiku-4-5-20251001", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "STOP", resp.StopSequence)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Contains(t, resp.Content[0].Text, `"country_code": "GBR"`)
	assert.Equal(t, "trailing note", resp.Content[1].Text)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(50), resp.Usage.OutputTokens)
	assert.Equal(t, int64(2000), resp.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(3000), resp.Usage.CacheReadInputTokens)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:         "msg_truncated",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "max_tokens",
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, int64(0), resp.Usage.InputTokens)
}

func TestFromSDKBatch(t *testing.T) {
	sdkBatch := &sdk.MessageBatch{
		ID:               "msgbatch_run_456",
		ProcessingStatus: "ended",
		ResultsURL:       "https://api.anthropic.com/results/msgbatch_run_456",
		RequestCounts: sdk.MessageBatchRequestCounts{
			Processing: 0,
			Succeeded:  8,
			Errored:    1,
			Canceled:   0,
			Expired:    1,
		},
	}

	resp := fromSDKBatch(sdkBatch)
	require.NotNil(t, resp)
	assert.Equal(t, "msgbatch_run_456", resp.ID)
	assert.Equal(t, "ended", resp.ProcessingStatus)
	assert.Equal(t, "https://api.anthropic.com/results/msgbatch_run_456", resp.ResultsURL)
	assert.Equal(t, int64(0), resp.RequestCounts.Processing)
	assert.Equal(t, int64(8), resp.RequestCounts.Succeeded)
	assert.Equal(t, int64(1), resp.RequestCounts.Errored)
	assert.Equal(t, int64(0), resp.RequestCounts.Canceled)
	assert.Equal(t, int64(1), resp.RequestCounts.Expired)
}

func TestFromSDKBatch_InProgress(t *testing.T) {
	sdkBatch := &sdk.MessageBatch{
		ID:               "msgbatch_pending",
		ProcessingStatus: "in_progress",
		RequestCounts: sdk.MessageBatchRequestCounts{
			Processing: 10,
			Succeeded:  0,
		},
	}

	resp := fromSDKBatch(sdkBatch)
	assert.Equal(t, "in_progress", resp.ProcessingStatus)
	assert.Equal(t, int64(10), resp.RequestCounts.Processing)
	assert.Equal(t, "", resp.ResultsURL)
}

func TestFromSDKBatchResult_Succeeded(t *testing.T) {
	sdkResp := sdk.MessageBatchIndividualResponse{
		CustomID: "fw-a1b2c3d4e5f60718",
		Result: sdk.MessageBatchResultUnion{
			Type: "succeeded",
			Message: sdk.Message{
				ID:         "msg_result_1",
				Model:      "claude-haiku-4-5-20251001",
				StopReason: "end_turn",
				Content: []sdk.ContentBlockUnion{
					{Type: "text", Text: `{"is_relevant": true, "is_framework": false}`},
				},
				Usage: sdk.Usage{
					InputTokens:  200,
					OutputTokens: 30,
				},
			},
		},
	}

	item := fromSDKBatchResult(sdkResp)
	assert.Equal(t, "fw-a1b2c3d4e5f60718", item.CustomID)
	assert.Equal(t, "succeeded", item.Type)
	require.NotNil(t, item.Message)
	assert.Equal(t, "msg_result_1", item.Message.ID)
	assert.Contains(t, item.Message.Content[0].Text, `"is_relevant": true`)
	assert.Equal(t, int64(200), item.Message.Usage.InputTokens)
}

func TestFromSDKBatchResult_NonSucceededHaveNoMessage(t *testing.T) {
	for _, typ := range []string{"errored", "canceled", "expired"} {
		t.Run(typ, func(t *testing.T) {
			item := fromSDKBatchResult(sdk.MessageBatchIndividualResponse{
				CustomID: "cm-" + typ,
				Result:   sdk.MessageBatchResultUnion{Type: typ},
			})
			assert.Equal(t, "cm-"+typ, item.CustomID)
			assert.Equal(t, typ, item.Type)
			assert.Nil(t, item.Message)
		})
	}
}

func TestToSDKMessages(t *testing.T) {
	cases := []struct {
		name string
		msgs []Message
		want int
	}{
		{"user only", []Message{{Role: "user", Content: "Classify this page."}}, 1},
		{"assistant only", []Message{{Role: "assistant", Content: "Acknowledged."}}, 1},
		{"mixed roles", []Message{
			{Role: "user", Content: "PAGE CONTENT:\nUS-UK Technology Prosperity Deal"},
			{Role: "assistant", Content: `{"is_framework": true}`},
			{Role: "user", Content: "Next page."},
		}, 3},
		{"unknown role defaults to user", []Message{{Role: "tool", Content: "x"}}, 1},
		{"empty", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sdkMsgs := toSDKMessages(tc.msgs)
			assert.Len(t, sdkMsgs, tc.want)
		})
	}
}

func TestToSDKSystemBlocks_NoCacheControl(t *testing.T) {
	blocks := []SystemBlock{
		{Text: "You analyze US government trade announcements."},
	}
	sdkBlocks := toSDKSystemBlocks(blocks)
	require.Len(t, sdkBlocks, 1)
	assert.Equal(t, "You analyze US government trade announcements.", sdkBlocks[0].Text)
}

func TestToSDKSystemBlocks_WithCacheControl(t *testing.T) {
	blocks := []SystemBlock{
		{Text: "Shared classification instructions", CacheControl: &CacheControl{TTL: "1h"}},
	}
	sdkBlocks := toSDKSystemBlocks(blocks)
	require.Len(t, sdkBlocks, 1)
	assert.Equal(t, "Shared classification instructions", sdkBlocks[0].Text)
	assert.NotNil(t, sdkBlocks[0].CacheControl)
}

func TestToSDKSystemBlocks_WithEmptyTTL(t *testing.T) {
	blocks := []SystemBlock{
		{Text: "Block", CacheControl: &CacheControl{TTL: ""}},
	}
	sdkBlocks := toSDKSystemBlocks(blocks)
	require.Len(t, sdkBlocks, 1)
	assert.NotNil(t, sdkBlocks[0].CacheControl)
}

func TestToSDKSystemBlocks_BreakpointOnLastBlockOnly(t *testing.T) {
	// The classification prompts put the cache breakpoint on the final
	// system block; earlier blocks must come through without one.
	blocks := []SystemBlock{
		{Text: "Role preamble"},
		{Text: "Output schema"},
		{Text: "Watchlist countries", CacheControl: &CacheControl{TTL: "1h"}},
	}
	sdkBlocks := toSDKSystemBlocks(blocks)
	require.Len(t, sdkBlocks, 3)
	assert.Equal(t, "Role preamble", sdkBlocks[0].Text)
	assert.Equal(t, "Output schema", sdkBlocks[1].Text)
	assert.Equal(t, "Watchlist countries", sdkBlocks[2].Text)
	assert.Empty(t, sdkBlocks[0].CacheControl.TTL)
	assert.Empty(t, sdkBlocks[1].CacheControl.TTL)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), sdkBlocks[2].CacheControl.TTL)
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	client := NewClient("test-api-key")
	require.NotNil(t, client)

	// Verify it implements the Client interface.
	var _ Client = client //nolint:staticcheck // interface compliance check
}

func TestMockBatchResultIterator_Empty(t *testing.T) {
	iter := NewMockBatchResultIterator(nil)
	assert.False(t, iter.Next())
	assert.NoError(t, iter.Err())
	assert.NoError(t, iter.Close())
}

func TestMockBatchResultIterator_Items(t *testing.T) {
	items := []BatchResultItem{
		{CustomID: "fw-aaaa000011112222", Type: "succeeded"},
		{CustomID: "cm-bbbb333344445555", Type: "errored"},
	}
	iter := NewMockBatchResultIterator(items)

	assert.True(t, iter.Next())
	assert.Equal(t, "fw-aaaa000011112222", iter.Item().CustomID)
	assert.True(t, iter.Next())
	assert.Equal(t, "cm-bbbb333344445555", iter.Item().CustomID)
	assert.False(t, iter.Next())
	assert.NoError(t, iter.Err())
}

func TestMockBatchResultIterator_WithError(t *testing.T) {
	items := []BatchResultItem{
		{CustomID: "fw-aaaa000011112222", Type: "succeeded"},
	}
	iter := NewMockBatchResultIteratorWithError(items, assert.AnError)

	assert.True(t, iter.Next())
	assert.Equal(t, "fw-aaaa000011112222", iter.Item().CustomID)

	// After consuming last item, Err() reports the error
	assert.False(t, iter.Next())
	assert.Equal(t, assert.AnError, iter.Err())
}
