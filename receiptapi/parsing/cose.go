package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ExtractCOSEPayload returns element 2 of an untagged COSE_Sign1 array
// [protected, unprotected, payload, signature].
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	var coseArray []cbor.RawMessage
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	var payload []byte
	if err := cbor.Unmarshal(coseArray[2], &payload); err != nil || payload == nil {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}

	return payload, nil
}
