package rules

import (
	"strings"

	"github.com/gobwas/glob"
)

// wildcardMatch implements spec §4.4's wildcard semantics: `*` matches any
// run of characters, `?` matches exactly one. A comma-separated pattern
// matches if any of its trimmed alternatives does. Grounded on the
// gobwas/glob usage observed across the retrieval pack's manifests (e.g.
// mvp-joe-project-cortex, DataDog-datadog-agent) rather than hand-rolling
// the * / ? state machine.
func wildcardMatch(pattern, value string) bool {
	for _, alt := range strings.Split(pattern, ",") {
		g, err := glob.Compile(strings.TrimSpace(alt))
		if err != nil {
			// An unparsable pattern can never match; rules are registry-owned
			// config, not user input to reject at parse time here.
			continue
		}
		if g.Match(value) {
			return true
		}
	}
	return false
}
