package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// KeySeparator joins the business key value and the row fingerprint into a
// RowKey. The fingerprint is hex, so underscore can never collide.
const KeySeparator = "_"

// nullMarker distinguishes NULL from the empty string in the canonical
// serialization.
const nullMarker = "\x00NULL"

// unitSeparator delimits values inside the canonical serialization so that
// adjacent values cannot merge into the same digest input.
const unitSeparator = "\x1f"

// CanonicalValue renders a scalar into its canonical string form. The same
// logical value must produce the same string regardless of which Go type the
// driver or the parquet reader surfaced it as.
func CanonicalValue(v any) string {
	switch x := v.(type) {
	case nil:
		return nullMarker
	case string:
		return x
	case []byte:
		return string(x)
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := strconv.ParseFloat(string(x), 64); err == nil {
			return canonicalFloat(f)
		}
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return canonicalFloat(float64(x))
	case float64:
		return canonicalFloat(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// canonicalFloat renders a float in the same form encoding/json emits:
// plain decimal notation for magnitudes in [1e-6, 1e21), exponent notation
// outside, with the exponent's leading zero trimmed. Float values that
// round-trip through a JSON-encoded store must canonicalize to the same
// string as the original, so this formatter is the single float form used
// for hashing.
func canonicalFloat(f float64) string {
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	if format == 'e' {
		if n := len(s); n >= 4 && s[n-4] == 'e' && s[n-3] == '-' && s[n-2] == '0' {
			s = s[:n-2] + s[n-1:]
		}
	}
	return s
}

// Fingerprint computes a deterministic digest over the full ordered tuple of
// row values. SHA-256 over the canonical serialization is stable across
// processes and runs, unlike Go's randomized map/hash primitives.
func Fingerprint(values []any) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteString(unitSeparator)
		}
		sb.WriteString(CanonicalValue(v))
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// RowKey builds the composite comparison key for a row: the canonical
// business key value joined with the fingerprint of all values.
func RowKey(key any, values []any) string {
	return CanonicalValue(key) + KeySeparator + Fingerprint(values)
}
