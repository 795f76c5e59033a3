package validation

// BaseValidationResult contains the checks shared by every signed document.
type BaseValidationResult struct {
	KeyTrusted        bool
	SignatureValid    bool
	ValidationDetails []string
}

// ReceiptValidationResult contains the results of validating one award receipt
// from one supplier's point of view.
type ReceiptValidationResult struct {
	BaseValidationResult
	BidHashValid       bool
	WinnerValid        bool
	ReservePriceValid  bool
	ContributionsValid bool
}

// IsValid returns true if all receipt validation checks passed
func (r *ReceiptValidationResult) IsValid() bool {
	return r.KeyTrusted && r.SignatureValid && r.BidHashValid && r.WinnerValid &&
		r.ReservePriceValid && r.ContributionsValid
}

// KeyValidationResult contains validation results for a published verification key.
type KeyValidationResult struct {
	BaseValidationResult
	KeyIDMatch bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.KeyTrusted && r.KeyIDMatch
}

// TrustedKey is a receipt verification key a supplier decided to trust.
type TrustedKey struct {
	KeyID     string `json:"key_id" yaml:"key_id"`
	PublicKey string `json:"public_key" yaml:"public_key"` // PEM
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
}

// TrustedKeyConfig is the trusted keys file layout.
type TrustedKeyConfig struct {
	Keys []TrustedKey `json:"keys" yaml:"keys"`
}
