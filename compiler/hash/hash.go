package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chazu/tubular/compiler"
)

// Hash computes the SHA-256 content hash of a compiler tree.
//
// The hash covers the canonical encoding of the position-free normalized
// tree, so reformatting the source or renaming local variables leaves it
// unchanged while any change in structure, literals or types does not.
func Hash(node compiler.Node) [32]byte {
	data, err := Encode(Normalize(node, false))
	if err != nil {
		// A normalized tree holds only strings, bytes and slices.
		panic(fmt.Sprintf("hash: encode normalized tree: %v", err))
	}
	return sha256.Sum256(data)
}

// String returns the hex form of a hash.
func String(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}
