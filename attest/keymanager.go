// Package attest issues signed award receipts for closed auctions.
package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/openprocure/core"
)

// KeyManager holds the ECDSA P-256 key receipts are signed with.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
	keyID      string
	signer     cose.Signer
}

// NewKeyManager generates a fresh key pair. Receipts signed with it cannot be
// verified after a restart unless the public key was exported.
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return newKeyManager(privateKey)
}

// LoadKeyManager reads a PEM "EC PRIVATE KEY" from path, creating the file with a
// new key when it does not exist. An empty path yields an ephemeral key.
func LoadKeyManager(path string) (*KeyManager, error) {
	if path == "" {
		return NewKeyManager()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		km, err := NewKeyManager()
		if err != nil {
			return nil, err
		}
		if err := km.writePrivateKey(path); err != nil {
			return nil, err
		}
		return km, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("receipt key %s: no EC PRIVATE KEY block", path)
	}
	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt key: %w", err)
	}
	if privateKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("receipt key %s: curve %s, want P-256", path, privateKey.Curve.Params().Name)
	}
	return newKeyManager(privateKey)
}

func newKeyManager(privateKey *ecdsa.PrivateKey) (*KeyManager, error) {
	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}
	return &KeyManager{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		keyID:      core.ComputeKeyID(der),
		signer:     signer,
	}, nil
}

func (km *KeyManager) writePrivateKey(path string) error {
	der, err := x509.MarshalECPrivateKey(km.privateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create receipt key directory: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write receipt key: %w", err)
	}
	return nil
}

// KeyID is the hex SHA-256 of the PKIX-encoded public key.
func (km *KeyManager) KeyID() string {
	return km.keyID
}

// PublicKeyPEM returns the public key in PEM format
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes})), nil
}

// Sign wraps payload in an untagged COSE_Sign1 message signed with ES256.
// The key ID travels in the protected header.
func (km *KeyManager) Sign(payload []byte) ([]byte, error) {
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Protected[cose.HeaderLabelKeyID] = []byte(km.keyID)
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, km.signer); err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}

	data, err := (*cose.UntaggedSign1Message)(msg).MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}
	return data, nil
}
