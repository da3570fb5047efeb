// Package checksum computes content digests used for change detection.
package checksum

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// Sum returns a 16 hex character xxh3 digest of data.
//
// Digests drive the index's "did this page change" comparisons; they are
// recomputed on every write and on every sync pass, so a fast
// non-cryptographic hash is the right trade-off.
func Sum(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}
