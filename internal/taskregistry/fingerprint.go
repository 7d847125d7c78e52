package taskregistry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Fingerprint canonicalizes a Task's inputs and hashes them, resolving
// the open question left in the design notes: lowercase every string
// leaf, recursively sort object keys, collapse whitespace runs, then
// hash with sha256. The scheme must be stable across processes so two
// equivalent submissions collide regardless of map iteration order.
func Fingerprint(inputs map[string]any) string {
	canon := canonicalize(inputs)
	h := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(h[:])
}

func canonicalize(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%q:%s", strings.ToLower(k), canonicalize(val[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = canonicalize(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case string:
		normalized := whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(val)), " ")
		return fmt.Sprintf("%q", normalized)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}
