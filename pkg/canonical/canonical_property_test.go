//go:build property
// +build property

package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/macterra/Axio-sub002/pkg/canonical"
)

// TestContentHashInsertionOrderIndependence verifies map construction order
// never changes the digest.
func TestContentHashInsertionOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is independent of insertion order", prop.ForAll(
		func(keys []string, values []int) bool {
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			forward := make(map[string]any, n)
			for i := 0; i < n; i++ {
				forward[keys[i]] = values[i]
			}
			backward := make(map[string]any, n)
			for i := n - 1; i >= 0; i-- {
				backward[keys[i]] = values[i]
			}

			h1, err1 := canonical.ContentHash(forward)
			h2, err2 := canonical.ContentHash(backward)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}

// TestEncodeIdempotence verifies re-encoding decoded canonical bytes is a
// fixed point.
func TestEncodeIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("encode is a fixed point on its own output", prop.ForAll(
		func(a string, b int, c bool) bool {
			v := map[string]any{"a": a, "b": b, "c": c}
			first, err := canonical.Encode(v)
			if err != nil {
				return true
			}
			var decoded any
			if err := json.Unmarshal(first, &decoded); err != nil {
				return false
			}
			second, err := canonical.Encode(decoded)
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		gen.AlphaString(),
		gen.Int(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
