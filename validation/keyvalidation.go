package validation

import (
	"fmt"

	"github.com/cloudx-io/openprocure/receiptapi"
)

// ValidateKeyResponse checks a published verification key: the advertised key ID
// must be derived from the PEM, and the key must be in the trusted set.
func ValidateKeyResponse(resp *receiptapi.KeyResponse, trusted []TrustedKey) (*KeyValidationResult, error) {
	_, computedID, err := ParsePublicKeyPEM(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse published key: %w", err)
	}

	result := &KeyValidationResult{
		BaseValidationResult: BaseValidationResult{ValidationDetails: []string{}},
	}

	if computedID == resp.KeyID {
		result.KeyIDMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Key ID matches public key")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Key ID mismatch: advertised %s, computed %s", resp.KeyID, computedID))
	}

	key, idx := FindTrustedKey(computedID, trusted)
	var trustedID string
	if key != nil {
		_, trustedID, _ = ParsePublicKeyPEM(key.PublicKey)
	}
	switch {
	case key == nil:
		result.ValidationDetails = append(result.ValidationDetails, "Public key is not in the trusted set")
	case trustedID != computedID:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Trusted key #%d does not match its key ID", idx))
	default:
		result.KeyTrusted = true
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Matched trusted key #%d", idx))
	}

	return result, nil
}
