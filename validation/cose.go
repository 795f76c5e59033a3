package validation

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/openprocure/receiptapi"
)

// ReceiptKeyID returns the key ID from the receipt's protected header.
func ReceiptKeyID(coseBytes receiptapi.ReceiptCOSE) (string, error) {
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return "", fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	kid, ok := msg.Headers.Protected[cose.HeaderLabelKeyID].([]byte)
	if !ok || len(kid) == 0 {
		return "", fmt.Errorf("missing key ID in protected headers")
	}
	return string(kid), nil
}

// VerifyReceiptSignature verifies an ES256 COSE_Sign1 receipt against publicKey.
func VerifyReceiptSignature(coseBytes receiptapi.ReceiptCOSE, publicKey *ecdsa.PublicKey) error {
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return fmt.Errorf("read algorithm: %w", err)
	}
	if alg != cose.AlgorithmES256 {
		return fmt.Errorf("unexpected algorithm %v", alg)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, publicKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	// Receipts carry no external AAD.
	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}
