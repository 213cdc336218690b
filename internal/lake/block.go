package lake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chainindex/coordinator/internal/rules"
)

// eventLogPrefix marks a structured NEP-297 event log line, grounded on
// original_source/block-streamer/src/rules/outcomes_reducer.rs's log
// parsing (every standard on NEAR emits this prefix for structured events;
// plain text logs are ignored by Event rules).
const eventLogPrefix = "EVENT_JSON:"

// rawBlockHeader is the block.json shape this source decodes beyond the
// timestamp already read by GetNearestBlockDate.
type rawBlockHeader struct {
	Header struct {
		Height         uint64 `json:"height"`
		Hash           string `json:"hash"`
		ChunksIncluded uint64 `json:"chunks_included"`
	} `json:"header"`
}

// rawShard is one shard_<n>.json file's relevant subset.
type rawShard struct {
	ReceiptExecutionOutcomes []struct {
		Receipt struct {
			ReceiptID     string `json:"receipt_id"`
			ReceiverID    string `json:"receiver_id"`
			PredecessorID string `json:"predecessor_id"`
			Receipt       struct {
				Action *struct {
					Actions []json.RawMessage `json:"actions"`
				} `json:"Action"`
			} `json:"receipt"`
		} `json:"receipt"`
		ExecutionOutcome struct {
			Outcome struct {
				Logs   []string        `json:"logs"`
				Status json.RawMessage `json:"status"`
			} `json:"outcome"`
		} `json:"execution_outcome"`
	} `json:"receipt_execution_outcomes"`
}

func shardKey(height uint64, shardID uint64) string {
	return fmt.Sprintf("%012d/shard_%d.json", height, shardID)
}

// GetBlock fetches block.json and every shard_<n>.json at height (stepping
// past misses the same way GetText does) and assembles the chain-agnostic
// rules.Block the matcher evaluates against.
func (s *Source) GetBlock(ctx context.Context, height uint64) (rules.Block, uint64, error) {
	blockText, actual, err := s.GetText(ctx, height)
	if err != nil {
		return rules.Block{}, 0, err
	}

	var header rawBlockHeader
	if err := json.Unmarshal([]byte(blockText), &header); err != nil {
		return rules.Block{}, 0, fmt.Errorf("parse block header at height %d: %w", actual, err)
	}

	block := rules.Block{Height: header.Header.Height, Hash: header.Header.Hash}
	if block.Height == 0 {
		block.Height = actual
	}

	for shardID := uint64(0); shardID < header.Header.ChunksIncluded; shardID++ {
		shardText, err := s.getShardText(ctx, actual, shardID)
		if err != nil {
			return rules.Block{}, 0, err
		}
		shard, err := parseShard(shardText)
		if err != nil {
			return rules.Block{}, 0, fmt.Errorf("parse shard %d at height %d: %w", shardID, actual, err)
		}
		block.Shards = append(block.Shards, shard)
	}

	return block, actual, nil
}

func (s *Source) getShardText(ctx context.Context, height, shardID uint64) (string, error) {
	out, err := s.Store.GetObject(ctx, objectInput(s.Bucket, shardKey(height, shardID)))
	if err != nil {
		return "", fmt.Errorf("fetch shard %d at height %d: %w", shardID, height, err)
	}
	defer out.Body.Close()
	body, err := readAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read shard %d body at height %d: %w", shardID, height, err)
	}
	return string(body), nil
}

func parseShard(text string) (rules.Shard, error) {
	var raw rawShard
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return rules.Shard{}, err
	}

	shard := rules.Shard{}
	for _, outcome := range raw.ReceiptExecutionOutcomes {
		receipt := rules.Receipt{
			ReceiptID:     outcome.Receipt.ReceiptID,
			ReceiverID:    outcome.Receipt.ReceiverID,
			PredecessorID: outcome.Receipt.PredecessorID,
			Success:       isSuccessStatus(outcome.ExecutionOutcome.Outcome.Status),
		}

		if action := outcome.Receipt.Receipt.Action; action != nil {
			for _, raw := range action.Actions {
				receipt.Actions = append(receipt.Actions, parseAction(raw))
			}
		}

		for _, line := range outcome.ExecutionOutcome.Outcome.Logs {
			if log, ok := parseEventLog(line); ok {
				receipt.Logs = append(receipt.Logs, log)
			}
		}

		shard.Receipts = append(shard.Receipts, receipt)
	}
	return shard, nil
}

// isSuccessStatus reports whether a NEAR ExecutionStatusView tagged union
// (SuccessValue/SuccessReceiptId/Failure/Unknown) represents success.
func isSuccessStatus(status json.RawMessage) bool {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(status, &tagged); err != nil {
		return false
	}
	_, success := tagged["SuccessValue"]
	if success {
		return true
	}
	_, successReceipt := tagged["SuccessReceiptId"]
	return successReceipt
}

// parseAction extracts a method name from a NEAR ActionView entry.
// Non-FunctionCall actions (CreateAccount, Transfer, ...) are serialized as
// a bare JSON string and carry no method name; they still participate in
// ActionAny matching via an empty Action.
func parseAction(raw json.RawMessage) rules.Action {
	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return rules.Action{}
	}
	functionCall, ok := asObject["FunctionCall"]
	if !ok {
		return rules.Action{}
	}
	var payload struct {
		MethodName string `json:"method_name"`
	}
	if err := json.Unmarshal(functionCall, &payload); err != nil {
		return rules.Action{}
	}
	return rules.Action{MethodName: payload.MethodName}
}

// parseEventLog recognizes the NEP-297 "EVENT_JSON:{...}" log convention;
// plain-text logs are not structured events and are dropped.
func parseEventLog(line string) (rules.Log, bool) {
	if !strings.HasPrefix(line, eventLogPrefix) {
		return rules.Log{}, false
	}

	var envelope struct {
		Standard string          `json:"standard"`
		Version  string          `json:"version"`
		Event    string          `json:"event"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, eventLogPrefix)), &envelope); err != nil {
		return rules.Log{}, false
	}

	return rules.Log{
		Standard: envelope.Standard,
		Version:  envelope.Version,
		Event:    envelope.Event,
		Data:     string(envelope.Data),
	}, true
}
