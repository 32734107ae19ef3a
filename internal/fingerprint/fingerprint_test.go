package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/perfsentry/core/internal/fingerprint"
)

func TestHashDeterministic(t *testing.T) {
	props := map[string]interface{}{
		"suite":                 "tp5o",
		"option_collection_hash": "my_option_hash",
		"machine_platform":      "linux64",
	}

	h1, err := fingerprint.Hash(props)
	assert.NoError(t, err)
	h2, err := fingerprint.Hash(props)
	assert.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 40)
}

func TestHashOrderIndependent(t *testing.T) {
	a := map[string]interface{}{
		"suite": "tp5o",
		"test":  "",
		"tags":  []interface{}{"b", "a"},
	}
	b := map[string]interface{}{
		"tags":  []interface{}{"b", "a"},
		"test":  "",
		"suite": "tp5o",
	}

	ha, err := fingerprint.Hash(a)
	assert.NoError(t, err)
	hb, err := fingerprint.Hash(b)
	assert.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashNestedObjectKeySortInvariant(t *testing.T) {
	a := map[string]interface{}{
		"suite": "s1",
		"extra": map[string]interface{}{"b": 1, "a": 2},
	}
	b := map[string]interface{}{
		"suite": "s1",
		"extra": map[string]interface{}{"a": 2, "b": 1},
	}

	ha, err := fingerprint.Hash(a)
	assert.NoError(t, err)
	hb, err := fingerprint.Hash(b)
	assert.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashGoldenValue(t *testing.T) {
	// Golden values computed independently from the spec's concatenation
	// scheme: keys + serialized values, sorted lexicographically, SHA-1 of
	// the UTF-8 concatenation with no separator. For {"suite": "tp5o",
	// "test": "", "platform": "linux64"} the sorted bag is
	// ["", "linux64", "platform", "suite", "test", "tp5o"].
	props := map[string]interface{}{
		"suite":    "tp5o",
		"test":     "",
		"platform": "linux64",
	}
	got, err := fingerprint.Hash(props)
	assert.NoError(t, err)
	assert.Equal(t, "ce9196e73f4d4dfb2d96ad5a4a12edfc1cc8b6e3", got)
}

func TestHashGoldenValueWithNestedObject(t *testing.T) {
	// The extra_options value is a nested object with a numeric and a
	// boolean field; its canonical encoding matches Python's
	// json.dumps(..., sort_keys=True), i.e. {"a": 1, "b": true} with a
	// space after each separator, and sorts after the plain string
	// members of the bag.
	props := map[string]interface{}{
		"suite":         "tp5o",
		"extra_options": map[string]interface{}{"a": float64(1), "b": true},
	}
	got, err := fingerprint.Hash(props)
	assert.NoError(t, err)
	assert.Equal(t, "6279163c7d6c587526f3f0cb1781ddb266d54aef", got)
}

func TestHashDiffersOnValueChange(t *testing.T) {
	base := map[string]interface{}{"suite": "tp5o", "test": "t1"}
	changed := map[string]interface{}{"suite": "tp5o", "test": "t2"}

	h1, err := fingerprint.Hash(base)
	assert.NoError(t, err)
	h2, err := fingerprint.Hash(changed)
	assert.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
