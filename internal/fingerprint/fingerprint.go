// Package fingerprint computes the stable content-addressed hash used to
// identify a performance signature from its set of defining properties.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"

	"github.com/perfsentry/core/internal/canonical"
)

// Hash derives the 40-hex-char SHA-1 signature hash from a property map.
//
// The scheme is deliberate and must stay bit-exact across versions: property
// names and serialized property values are thrown into one sorted bag and
// concatenated without a separator before hashing. Changing this invalidates
// every historical signature, so don't "fix" the apparent collision risk of
// mixing keys and values in the same bag.
func Hash(properties map[string]interface{}) (string, error) {
	bag := make([]string, 0, len(properties)*2)

	for name := range properties {
		bag = append(bag, name)
	}

	for _, value := range properties {
		switch v := value.(type) {
		case string:
			bag = append(bag, v)
		default:
			encoded, err := canonical.Marshal(v)
			if err != nil {
				return "", err
			}
			bag = append(bag, string(encoded))
		}
	}

	sort.Strings(bag)

	h := sha1.New()
	for _, s := range bag {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
