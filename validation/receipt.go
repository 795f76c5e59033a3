package validation

import (
	"fmt"

	"github.com/cloudx-io/openprocure/receiptapi"
)

// validateCommonReceipt decodes a receipt, pins its key against the trusted set and
// verifies the signature. The parsed payload is returned even when a check failed.
func validateCommonReceipt(receiptB64 receiptapi.ReceiptCOSEBase64, trusted []TrustedKey) (*BaseValidationResult, *receiptapi.AwardReceipt, error) {
	coseBytes, err := receiptB64.Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	receipt, err := coseBytes.Parse()
	if err != nil {
		return nil, nil, fmt.Errorf("parse award receipt: %w", err)
	}

	keyID, err := ReceiptKeyID(coseBytes)
	if err != nil {
		return nil, nil, err
	}

	result := &BaseValidationResult{
		ValidationDetails: []string{},
	}

	key, idx := FindTrustedKey(keyID, trusted)
	switch {
	case key == nil:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Signing key %s is not trusted", keyID))
	case receipt.KeyID != keyID:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Key ID mismatch: header %s, payload %s", keyID, receipt.KeyID))
	default:
		result.KeyTrusted = true
		label := key.Label
		if label == "" {
			label = "unlabeled"
		}
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Matched trusted key #%d (%s)", idx, label))
	}

	if key == nil {
		return result, receipt, nil
	}

	publicKey, _, err := ParsePublicKeyPEM(key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("trusted key %s: %w", keyID, err)
	}

	if err := VerifyReceiptSignature(coseBytes, publicKey); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, err.Error())
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
	}

	return result, receipt, nil
}
