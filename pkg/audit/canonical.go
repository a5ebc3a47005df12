package audit

import (
	"fmt"
	"sort"
	"strings"
)

// canonicalPayloadBytes renders a payload map deterministically: keys
// sorted, values stringified with fmt.Sprintf("%v"). This is not a general
// JSON canonicalizer — the payload is already constrained to the
// flat, descriptive key/value pairs every call site in this codebase
// passes (event descriptions, not arbitrary nested documents) — but it
// guarantees the same payload always hashes the same way regardless of Go
// map iteration order.
func canonicalPayloadBytes(payload map[string]any) []byte {
	if len(payload) == 0 {
		return nil
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%v;", k, payload[k])
	}
	return []byte(sb.String())
}
