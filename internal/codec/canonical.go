// Package codec implements the boundary between the trust graph and the
// outside world: the signed IdentityFile wire format, and the
// deterministic canonical-JSON encoding its signature is computed over.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// MaxTrustListSize bounds the canonicalised size of a trust list payload
// before it is signed or after it is parsed, mirroring the size limits
// §3 calls out for nickname/context/property fields.
const MaxTrustListSize = 256 * 1024

// CanonicalizeJSON renders data as deterministic, key-sorted, whitespace-
// free JSON suitable for hashing and signing.
func CanonicalizeJSON(data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("initial marshal failed: %w", err)
	}
	if len(raw) > MaxTrustListSize {
		return nil, fmt.Errorf("canonical payload exceeds %d bytes", MaxTrustListSize)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal for canonicalization failed: %w", err)
	}
	canonical := canonicalizeValue(generic)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(canonical); err != nil {
		return nil, fmt.Errorf("canonical marshal failed: %w", err)
	}

	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}
	return result, nil
}

func canonicalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return canonicalizeObject(v)
	case []interface{}:
		return canonicalizeArray(v)
	default:
		return v
	}
}

func canonicalizeObject(obj map[string]interface{}) map[string]interface{} {
	if obj == nil {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		result[k] = canonicalizeValue(obj[k])
	}
	return result
}

func canonicalizeArray(arr []interface{}) []interface{} {
	if arr == nil {
		return nil
	}
	out := make([]interface{}, len(arr))
	for i, v := range arr {
		out[i] = canonicalizeValue(v)
	}
	return out
}
