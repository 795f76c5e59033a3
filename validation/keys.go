package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/openprocure/core"
)

// LoadTrustedKeysFromFile loads trusted verification keys from a YAML file.
// JSON files are accepted as well.
func LoadTrustedKeysFromFile(path string) ([]TrustedKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trusted keys file: %w", err)
	}

	var config TrustedKeyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse trusted keys: %w", err)
	}

	if len(config.Keys) == 0 {
		return nil, fmt.Errorf("no keys found in trusted keys file")
	}

	for i, key := range config.Keys {
		if _, _, err := ParsePublicKeyPEM(key.PublicKey); err != nil {
			return nil, fmt.Errorf("trusted key #%d: %w", i, err)
		}
	}

	return config.Keys, nil
}

// FindTrustedKey returns the trusted key with keyID, or (nil, -1).
func FindTrustedKey(keyID string, keys []TrustedKey) (*TrustedKey, int) {
	for i := range keys {
		if keys[i].KeyID == keyID {
			return &keys[i], i
		}
	}
	return nil, -1
}

// ParsePublicKeyPEM parses a PEM "PUBLIC KEY" holding an ECDSA key and returns it
// together with its key ID.
func ParsePublicKeyPEM(pemKey string) (*ecdsa.PublicKey, string, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, "", fmt.Errorf("no PUBLIC KEY block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, "", fmt.Errorf("parse public key: %w", err)
	}
	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, "", fmt.Errorf("public key is not ECDSA")
	}
	return ecdsaKey, core.ComputeKeyID(block.Bytes), nil
}
