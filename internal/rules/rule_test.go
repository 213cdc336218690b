package rules

import (
	"testing"

	"github.com/chainindex/coordinator/internal/registrytypes"
)

func blockWithReceipt(r Receipt) Block {
	return Block{
		Height: 93085141,
		Hash:   "block-hash",
		Shards: []Shard{{Receipts: []Receipt{r}}},
	}
}

// These mirror original_source/block-streamer/src/rules/outcomes_reducer.rs
// match_wildcard_* tests: a single receipt whose receiver_id is
// app.nearcrowd.near.
func nearcrowdReceipt() Receipt {
	return Receipt{
		ReceiptID:     "receipt-1",
		ReceiverID:    "app.nearcrowd.near",
		PredecessorID: "someone.near",
		Success:       true,
	}
}

func TestActionAnyWildcardNoMatch(t *testing.T) {
	rule := registrytypes.Rule{
		Kind:              registrytypes.RuleActionAny,
		AffectedAccountID: "*.nearcrow.near",
		Status:            registrytypes.StatusSuccess,
	}
	matches := Evaluate(rule, blockWithReceipt(nearcrowdReceipt()))
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestActionAnyWildcardContractSubaccount(t *testing.T) {
	rule := registrytypes.Rule{
		Kind:              registrytypes.RuleActionAny,
		AffectedAccountID: "*.nearcrowd.near",
		Status:            registrytypes.StatusSuccess,
	}
	matches := Evaluate(rule, blockWithReceipt(nearcrowdReceipt()))
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].ReceiptID != "receipt-1" {
		t.Errorf("unexpected receipt id: %s", matches[0].ReceiptID)
	}
}

func TestActionAnyWildcardMidContractName(t *testing.T) {
	for _, pattern := range []string{"*crowd.near", "app.nea*owd.near"} {
		rule := registrytypes.Rule{
			Kind:              registrytypes.RuleActionAny,
			AffectedAccountID: pattern,
			Status:            registrytypes.StatusSuccess,
		}
		matches := Evaluate(rule, blockWithReceipt(nearcrowdReceipt()))
		if len(matches) != 1 {
			t.Errorf("pattern %q: expected 1 match, got %d", pattern, len(matches))
		}
	}
}

func TestActionAnyCSVAccountList(t *testing.T) {
	rule := registrytypes.Rule{
		Kind:              registrytypes.RuleActionAny,
		AffectedAccountID: "notintheblockaccount.near,app.nearcrowd.near",
		Status:            registrytypes.StatusSuccess,
	}
	matches := Evaluate(rule, blockWithReceipt(nearcrowdReceipt()))
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}

func TestActionAnyStatusFailExcludesSuccess(t *testing.T) {
	rule := registrytypes.Rule{
		Kind:              registrytypes.RuleActionAny,
		AffectedAccountID: "*.nearcrowd.near",
		Status:            registrytypes.StatusFail,
	}
	matches := Evaluate(rule, blockWithReceipt(nearcrowdReceipt()))
	if len(matches) != 0 {
		t.Errorf("expected no matches for Fail status against a successful receipt, got %d", len(matches))
	}
}

func TestActionAnyMatchesPredecessor(t *testing.T) {
	r := Receipt{ReceiptID: "r2", ReceiverID: "contract.near", PredecessorID: "alice.near", Success: true}
	rule := registrytypes.Rule{
		Kind:              registrytypes.RuleActionAny,
		AffectedAccountID: "alice.near",
		Status:            registrytypes.StatusAny,
	}
	matches := Evaluate(rule, blockWithReceipt(r))
	if len(matches) != 1 {
		t.Fatalf("expected match via predecessor_id, got %d", len(matches))
	}
}

func TestActionFunctionCallRequiresMethodMatch(t *testing.T) {
	r := Receipt{
		ReceiptID:  "r3",
		ReceiverID: "app.nearcrowd.near",
		Success:    true,
		Actions:    []Action{{MethodName: "submit_task"}},
	}
	rule := registrytypes.Rule{
		Kind:              registrytypes.RuleActionFunctionCall,
		AffectedAccountID: "app.nearcrowd.near",
		Status:            registrytypes.StatusAny,
		Function:          "submit_*",
	}
	if matches := Evaluate(rule, blockWithReceipt(r)); len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	rule.Function = "withdraw"
	if matches := Evaluate(rule, blockWithReceipt(r)); len(matches) != 0 {
		t.Fatalf("expected no match for unrelated method name, got %d", len(matches))
	}
}

func TestEventRuleFirstMatchingLogIsCanonical(t *testing.T) {
	r := Receipt{
		ReceiptID:  "r4",
		ReceiverID: "token.near",
		Success:    true,
		Logs: []Log{
			{Standard: "nep141", Version: "1.0.0", Event: "ft_mint", Data: `{"amount":"1"}`},
			{Standard: "nep141", Version: "1.0.0", Event: "ft_mint", Data: `{"amount":"2"}`},
		},
	}
	rule := registrytypes.Rule{
		Kind:              registrytypes.RuleEvent,
		ContractAccountID: "token.near",
		Standard:          "nep141",
		Version:           "*",
		Event:             "ft_mint",
	}

	matches := Evaluate(rule, blockWithReceipt(r))
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].EventLog == nil || matches[0].EventLog.Data != `{"amount":"1"}` {
		t.Errorf("expected first matching log to be canonical, got %+v", matches[0].EventLog)
	}
}

func TestEventRuleContractMismatch(t *testing.T) {
	r := Receipt{
		ReceiptID:  "r5",
		ReceiverID: "other.near",
		Logs:       []Log{{Standard: "nep141", Version: "1.0.0", Event: "ft_mint"}},
	}
	rule := registrytypes.Rule{
		Kind:              registrytypes.RuleEvent,
		ContractAccountID: "token.near",
		Standard:          "*",
		Version:           "*",
		Event:             "*",
	}
	if matches := Evaluate(rule, blockWithReceipt(r)); len(matches) != 0 {
		t.Errorf("expected no match for mismatched contract, got %d", len(matches))
	}
}

func TestEvaluateOrderPreservesShardAndReceiptOrder(t *testing.T) {
	block := Block{
		Height: 1,
		Shards: []Shard{
			{Receipts: []Receipt{{ReceiptID: "s0r0", ReceiverID: "x.near", Success: true}}},
			{Receipts: []Receipt{
				{ReceiptID: "s1r0", ReceiverID: "x.near", Success: true},
				{ReceiptID: "s1r1", ReceiverID: "x.near", Success: true},
			}},
		},
	}
	rule := registrytypes.Rule{Kind: registrytypes.RuleActionAny, AffectedAccountID: "x.near", Status: registrytypes.StatusAny}

	matches := Evaluate(rule, block)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	want := []string{"s0r0", "s1r0", "s1r1"}
	for i, w := range want {
		if matches[i].ReceiptID != w {
			t.Errorf("match %d = %s, want %s", i, matches[i].ReceiptID, w)
		}
	}
}
