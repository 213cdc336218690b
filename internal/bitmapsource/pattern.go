// Package bitmapsource implements the Bitmap Source (spec §4.2): turning an
// indexer's contract pattern into a sequence of per-day Base64Bitmap values.
// Grounded on
// original_source/block-streamer/src/receiver_blocks/receiver_blocks_processor.rs,
// whose ContractPatternType classification and root-wildcard stripping are
// ported here unchanged in meaning.
package bitmapsource

import (
	"regexp"
	"strings"
)

// PatternKind discriminates the parsed ContractPattern.
type PatternKind int

const (
	PatternExact PatternKind = iota
	PatternWildcard
)

// ContractPattern is the parsed form of an indexer's affected_account_id
// rule field, ready to drive a bitmap-service query.
type ContractPattern struct {
	Kind PatternKind

	// Exact carries the account id list when Kind == PatternExact.
	Exact []string

	// WildcardRegex is a `|`-joined regular expression, `.`-escaped and
	// `*` replaced with `.*`, when Kind == PatternWildcard.
	WildcardRegex string
}

var wildcardRootAccount = regexp.MustCompile(`^\*\.([a-zA-Z0-9]+)$`)

// stripWildcardIfRootAccount reduces "*.near"-style tokens to their root
// ("near"), since the bitmap service stores bitmaps per root account for
// these.
func stripWildcardIfRootAccount(token string) string {
	m := wildcardRootAccount.FindStringSubmatch(token)
	if m == nil {
		return token
	}
	return m[1]
}

// ParsePattern classifies a raw comma-separated contract pattern per spec
// §4.2's grammar.
func ParsePattern(raw string) ContractPattern {
	tokens := strings.Split(raw, ",")
	cleaned := make([]string, len(tokens))
	for i, tok := range tokens {
		cleaned[i] = stripWildcardIfRootAccount(strings.TrimSpace(tok))
	}
	joined := strings.Join(cleaned, ",")

	if strings.ContainsRune(joined, '*') {
		wildcard := strings.NewReplacer(",", "|", ".", `\.`, "*", ".*").Replace(joined)
		return ContractPattern{Kind: PatternWildcard, WildcardRegex: wildcard}
	}

	return ContractPattern{Kind: PatternExact, Exact: cleaned}
}

// skipAccounts lists the tokens flagged "skip bitmap index" by spec §4.2:
// patterns broad enough to match every block, for which the Block Stream
// Engine must bypass the bitmap source and stream directly from live
// tailing.
var skipAccounts = map[string]bool{
	"*":        true,
	"*.near":   true,
	"*.kaiching": true,
	"*.tg":     true,
}

// IsSkipPattern reports whether raw (the unparsed affected_account_id,
// trimmed per token) should bypass the bitmap index
// entirely. Checked against the raw, pre-stripped tokens: stripping would
// turn "*.near" into "near", losing exactly the signal this check needs.
func IsSkipPattern(raw string) bool {
	for _, tok := range strings.Split(raw, ",") {
		if skipAccounts[strings.TrimSpace(tok)] {
			return true
		}
	}
	return false
}
