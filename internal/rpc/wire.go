package rpc

import "github.com/chainindex/coordinator/internal/registrytypes"

func encodeRule(r registrytypes.Rule) map[string]any {
	return map[string]any{
		"kind":                float64(r.Kind),
		"affected_account_id": r.AffectedAccountID,
		"status":              float64(r.Status),
		"function":            r.Function,
		"contract_account_id": r.ContractAccountID,
		"standard":            r.Standard,
		"version":             r.Version,
		"event":               r.Event,
	}
}

func decodeRule(m map[string]any) registrytypes.Rule {
	return registrytypes.Rule{
		Kind:              registrytypes.RuleKind(int(fieldFloat(m, "kind"))),
		AffectedAccountID: fieldString(m, "affected_account_id"),
		Status:            registrytypes.Status(int(fieldFloat(m, "status"))),
		Function:          fieldString(m, "function"),
		ContractAccountID: fieldString(m, "contract_account_id"),
		Standard:          fieldString(m, "standard"),
		Version:           fieldString(m, "version"),
		Event:             fieldString(m, "event"),
	}
}
