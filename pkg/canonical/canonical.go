// Package canonical provides the deterministic serialization and SHA-256
// content addressing that underlie authority identity and state hashing.
//
// The encoding sorts object keys lexicographically by UTF-8 byte value,
// emits no insignificant whitespace, disables HTML escaping, normalizes
// every string to Unicode NFC, and admits integers only. Two semantically
// equal values always canonicalize to the same bytes, across processes and
// across implementations.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MaxSafeInteger bounds every number the codec will encode. Values beyond
// 2^53-1 cannot round-trip through IEEE-754 doubles, so a peer decoding the
// canonical bytes with a double-based JSON parser would disagree on identity.
const MaxSafeInteger = 1<<53 - 1

// Encode returns the canonical byte encoding of v.
//
// v is first marshaled through encoding/json (honoring struct tags), decoded
// back with number preservation, normalized, and re-serialized with sorted
// keys. Fractional numbers, exponent notation, numbers outside the safe
// integer range, and NaN/Inf all fail with an error rather than producing
// ambiguous bytes.
func Encode(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: intermediate decode failed: %w", err)
	}

	return marshalValue(generic)
}

// EncodeString returns the canonical encoding of v as a string.
func EncodeString(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ContentHash returns the SHA-256 hex digest of the canonical encoding of v.
func ContentHash(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns it hex encoded.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func marshalValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return marshalNumber(t)
	case string:
		return marshalString(norm.NFC.String(t))
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalValue(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		return marshalObject(t)
	default:
		return nil, fmt.Errorf("canonical: unsupported type %T", v)
	}
}

// marshalNumber admits integer values only, rendering them as minimal
// decimal tokens. Integral floats ("1.0", "1e2") collapse to the same token
// as their integer form so no formatting ambiguity survives encoding.
func marshalNumber(n json.Number) ([]byte, error) {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if i > MaxSafeInteger || i < -MaxSafeInteger {
			return nil, fmt.Errorf("canonical: integer %d outside safe range", i)
		}
		return []byte(strconv.FormatInt(i, 10)), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("canonical: unparseable number %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canonical: non-finite number %q", s)
	}
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("canonical: fractional number %q not allowed", s)
	}
	if f > MaxSafeInteger || f < -MaxSafeInteger {
		return nil, fmt.Errorf("canonical: integer %v outside safe range", f)
	}
	return []byte(strconv.FormatInt(int64(f), 10)), nil
}

func marshalObject(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	normalized := make(map[string]any, len(m))
	for k, val := range m {
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return nil, fmt.Errorf("canonical: key %q collides after NFC normalization", k)
		}
		normalized[nk] = val
		keys = append(keys, nk)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalString(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(normalized[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	// json.Encoder appends a newline, trim it
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
