// Package digest derives stable pseudo-random numbers from strings.
package digest

import (
	"encoding/binary"
	"strings"

	"github.com/zeebo/blake3"
)

// Uint64 hashes the parts joined by "/" and returns the first 8 bytes of the
// BLAKE3 digest. Equal inputs always give equal outputs.
func Uint64(parts ...string) uint64 {
	sum := blake3.Sum256([]byte(strings.Join(parts, "/")))
	return binary.BigEndian.Uint64(sum[:8])
}
