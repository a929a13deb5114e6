package hash

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Canonical CBOR encoding of the canonical tree.
//
// The document is a two-entry map {1: version, 2: root}. Canonical mode
// sorts map keys and uses the shortest integer forms, so equal trees always
// encode to equal bytes.
// ---------------------------------------------------------------------------

// ErrVersion is returned when decoding a document of another format version.
var ErrVersion = errors.New("unsupported tree format version")

type document struct {
	Version byte   `cbor:"1,keyasint"`
	Root    *HNode `cbor:"2,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("hash: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Encode serializes a canonical tree to CBOR bytes.
func Encode(root *HNode) ([]byte, error) {
	if root == nil {
		return nil, errors.New("hash: encode nil tree")
	}
	return cborEncMode.Marshal(&document{Version: HashVersion, Root: root})
}

// Decode deserializes a canonical tree from CBOR bytes.
func Decode(data []byte) (*HNode, error) {
	var doc document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("hash: unmarshal tree: %w", err)
	}
	if doc.Version != HashVersion {
		return nil, fmt.Errorf("hash: %w %d", ErrVersion, doc.Version)
	}
	if doc.Root == nil {
		return nil, errors.New("hash: document has no tree")
	}
	return doc.Root, nil
}
