package cache

import (
	"crypto/md5" // #nosec G401 -- file naming only, not integrity.
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// FingerprintKey derives a deterministic cache key from an arbitrary
// fingerprint object: the SHA-256 of its canonical JSON. Two semantically
// identical objects produce the same key regardless of property order.
func FingerprintKey(fingerprint any) (string, error) {
	canonical, err := CanonicalJSON(fingerprint)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint: %w", err)
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON renders a value as deterministic JSON: object keys sorted,
// no insignificant whitespace.
func CanonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := writeCanonical(&sb, decoded); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case float64:
		// Integral floats render without a decimal point so that 1 and
		// 1.0 fingerprint identically.
		if val == float64(int64(val)) {
			sb.WriteString(strconv.FormatInt(int64(val), 10))
		} else {
			sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(encoded)
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encoded, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(encoded)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical JSON type %T", v)
	}
	return nil
}

// hashKey maps a caller-supplied key to the persistent tier file name.
func hashKey(key string) string {
	sum := md5.Sum([]byte(key)) // #nosec G401 -- file naming only.
	return hex.EncodeToString(sum[:])
}
