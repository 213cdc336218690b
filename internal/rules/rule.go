package rules

import "github.com/chainindex/coordinator/internal/registrytypes"

// Match is one evaluated hit: the receipt the rule matched, plus (for Event
// rules) the canonical log that satisfied it.
type Match struct {
	BlockHeight uint64
	BlockHash   string
	ReceiptID   string

	// EventLog is set only for Event rules; it is the first matching log on
	// the receipt, per spec §4.4's "first matching log per receipt is
	// canonical".
	EventLog *Log
}

// Evaluate runs rule against block and returns every match, in block
// iteration order (shard order, then receipt order within a shard). It is
// pure and deterministic.
func Evaluate(rule registrytypes.Rule, block Block) []Match {
	var matches []Match
	for _, shard := range block.Shards {
		for _, receipt := range shard.Receipts {
			if m, ok := evaluateReceipt(rule, receipt, block); ok {
				matches = append(matches, m)
			}
		}
	}
	return matches
}

func evaluateReceipt(rule registrytypes.Rule, r Receipt, block Block) (Match, bool) {
	switch rule.Kind {
	case registrytypes.RuleActionAny:
		if !matchesAffectedAccount(rule.AffectedAccountID, r) {
			return Match{}, false
		}
		if !statusFromRegistry(rule.Status).Matches(r.Success) {
			return Match{}, false
		}
		return Match{BlockHeight: block.Height, BlockHash: block.Hash, ReceiptID: r.ReceiptID}, true

	case registrytypes.RuleActionFunctionCall:
		if !matchesAffectedAccount(rule.AffectedAccountID, r) {
			return Match{}, false
		}
		if !statusFromRegistry(rule.Status).Matches(r.Success) {
			return Match{}, false
		}
		for _, a := range r.Actions {
			if a.MethodName != "" && wildcardMatch(rule.Function, a.MethodName) {
				return Match{BlockHeight: block.Height, BlockHash: block.Hash, ReceiptID: r.ReceiptID}, true
			}
		}
		return Match{}, false

	case registrytypes.RuleEvent:
		if !wildcardMatch(rule.ContractAccountID, r.ReceiverID) {
			return Match{}, false
		}
		for i := range r.Logs {
			log := r.Logs[i]
			if wildcardMatch(rule.Event, log.Event) &&
				wildcardMatch(rule.Standard, log.Standard) &&
				wildcardMatch(rule.Version, log.Version) {
				return Match{
					BlockHeight: block.Height,
					BlockHash:   block.Hash,
					ReceiptID:   r.ReceiptID,
					EventLog:    &log,
				}, true
			}
		}
		return Match{}, false

	default:
		return Match{}, false
	}
}

func matchesAffectedAccount(pattern string, r Receipt) bool {
	return wildcardMatch(pattern, r.ReceiverID) || wildcardMatch(pattern, r.PredecessorID)
}

// statusFromRegistry bridges registrytypes.Status (the registry's wire
// representation) to this package's evaluation-facing Status. Kept as a
// narrow adapter so registrytypes has no dependency on the matcher.
func statusFromRegistry(s registrytypes.Status) Status {
	switch s {
	case registrytypes.StatusSuccess:
		return StatusSuccess
	case registrytypes.StatusFail:
		return StatusFail
	default:
		return StatusAny
	}
}
