// Package fingerprint derives the stable identity used to group repeated
// occurrences of the same alert.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/emirozbir/alertflow/internal/models"
)

// MaxLength is the longest fingerprint the store accepts.
const MaxLength = 255

// Compute returns the fingerprint of alert over the given fields.
//
// With no fields the alert name is returned verbatim. Otherwise the string
// forms of the field values are fed, in order, into a SHA-256 digest and the
// hex digest is returned. Lists and maps are serialized as JSON with sorted
// keys. Falsy values (missing, "", false, 0) are skipped, so two alerts that
// differ only by an empty versus absent field collide.
func Compute(alert *models.Alert, fields []string) string {
	if len(fields) == 0 {
		return alert.Name
	}

	values := alert.Fields()
	h := sha256.New()
	for _, field := range fields {
		s, ok := stringify(values[field])
		if !ok {
			continue
		}
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Truncate caps fp at MaxLength bytes.
func Truncate(fp string) string {
	if len(fp) > MaxLength {
		return fp[:MaxLength]
	}
	return fp
}

// stringify returns the digest input for v and whether v is truthy.
func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case bool:
		return strconv.FormatBool(val), val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), val != 0
	case []any, map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(data), true
	default:
		s := fmt.Sprint(val)
		return s, s != ""
	}
}
