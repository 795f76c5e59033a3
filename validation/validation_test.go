package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/openprocure/attest"
	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
	"github.com/cloudx-io/openprocure/receiptapi"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pricePtr(s string) *decimal.Decimal {
	p := price(s)
	return &p
}

type testReceipt struct {
	keys    *attest.KeyManager
	trusted []TrustedKey
	cose    receiptapi.ReceiptCOSEBase64
}

var contributions = []core.Contribution{
	{ShopID: "shop-a", Quantity: 600},
	{ShopID: "shop-b", Quantity: 400},
}

func lotConverted() events.Event {
	return events.Event{
		Type:      events.LotConverted,
		AuctionID: "auction-1",
		Lot:       &core.Lot{ID: "lot-1", AuctionID: "auction-1", Contributions: contributions},
	}
}

func issueReceipt(t *testing.T, winner string) *testReceipt {
	t.Helper()
	km, err := attest.NewKeyManager()
	assert.NoError(t, err)
	pemKey, err := km.PublicKeyPEM()
	assert.NoError(t, err)

	issuer := attest.NewIssuer(km)
	issuer.Handle(lotConverted())

	a := &core.Auction{
		ID:           "auction-1",
		LotID:        "lot-1",
		Protocol:     core.ProtocolSealed,
		ReservePrice: price("3.00"),
		Quantity:     1000,
		Status:       core.AuctionVoid,
		ClosedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if winner != "" {
		a.Status = core.AuctionAwarded
		a.WinnerBidID = winner
	}
	bids := []core.Bid{
		{ID: "bid-1", SupplierID: "mill-a", Price: price("3.50"), Quantity: 1000},
		{ID: "bid-2", SupplierID: "mill-b", Price: price("3.35"), Quantity: 1000},
	}
	_, signed, err := issuer.Issue(a, bids)
	assert.NoError(t, err)

	return &testReceipt{
		keys:    km,
		trusted: []TrustedKey{{KeyID: km.KeyID(), PublicKey: pemKey, Label: "test"}},
		cose:    signed.EncodeBase64(),
	}
}

func TestValidateReceipt_WinnerPasses(t *testing.T) {
	r := issueReceipt(t, "bid-2")

	result, err := ValidateReceipt(&ReceiptValidationInput{
		Receipt:       r.cose,
		TrustedKeys:   r.trusted,
		BidID:         "bid-2",
		BidPrice:      price("3.35"),
		BidQuantity:   1000,
		ClearingPrice: pricePtr("3.35"),
		ReservePrice:  pricePtr("3"),
		IsWinner:      true,
		Contributions: contributions,
	})
	assert.NoError(t, err)
	check.True(t, result.KeyTrusted)
	check.True(t, result.SignatureValid)
	check.True(t, result.BidHashValid)
	check.True(t, result.WinnerValid)
	check.True(t, result.ReservePriceValid)
	check.True(t, result.ContributionsValid)
	check.True(t, result.IsValid())
}

func TestValidateReceipt_LoserPasses(t *testing.T) {
	r := issueReceipt(t, "bid-2")

	result, err := ValidateReceipt(&ReceiptValidationInput{
		Receipt:       r.cose,
		TrustedKeys:   r.trusted,
		BidID:         "bid-1",
		BidPrice:      price("3.5"),
		BidQuantity:   1000,
		ClearingPrice: pricePtr("3.35"),
	})
	assert.NoError(t, err)
	check.True(t, result.IsValid())
}

func TestValidateReceipt_Failures(t *testing.T) {
	tests := []struct {
		name   string
		winner string
		mutate func(*ReceiptValidationInput)
		failed func(*ReceiptValidationResult) bool
	}{
		{
			name:   "bid not included",
			winner: "bid-2",
			mutate: func(in *ReceiptValidationInput) { in.BidPrice = price("3.40") },
			failed: func(r *ReceiptValidationResult) bool { return !r.BidHashValid },
		},
		{
			name:   "claimed win but lost",
			winner: "bid-2",
			mutate: func(in *ReceiptValidationInput) { in.IsWinner = true },
			failed: func(r *ReceiptValidationResult) bool { return !r.WinnerValid },
		},
		{
			name:   "wrong clearing price",
			winner: "bid-2",
			mutate: func(in *ReceiptValidationInput) { in.ClearingPrice = pricePtr("3.30") },
			failed: func(r *ReceiptValidationResult) bool { return !r.WinnerValid },
		},
		{
			name:   "winner expected on void auction",
			winner: "",
			mutate: func(in *ReceiptValidationInput) {},
			failed: func(r *ReceiptValidationResult) bool { return !r.WinnerValid },
		},
		{
			name:   "reserve mismatch",
			winner: "bid-2",
			mutate: func(in *ReceiptValidationInput) { in.ReservePrice = pricePtr("3.10") },
			failed: func(r *ReceiptValidationResult) bool { return !r.ReservePriceValid },
		},
		{
			name:   "contributions mismatch",
			winner: "bid-2",
			mutate: func(in *ReceiptValidationInput) {
				in.Contributions = []core.Contribution{{ShopID: "shop-a", Quantity: 500}}
			},
			failed: func(r *ReceiptValidationResult) bool { return !r.ContributionsValid },
		},
		{
			name:   "untrusted key",
			winner: "bid-2",
			mutate: func(in *ReceiptValidationInput) { in.TrustedKeys = nil },
			failed: func(r *ReceiptValidationResult) bool { return !r.KeyTrusted && !r.SignatureValid },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := issueReceipt(t, tt.winner)
			input := &ReceiptValidationInput{
				Receipt:       r.cose,
				TrustedKeys:   r.trusted,
				BidID:         "bid-1",
				BidPrice:      price("3.50"),
				BidQuantity:   1000,
				ClearingPrice: pricePtr("3.35"),
			}
			tt.mutate(input)

			result, err := ValidateReceipt(input)
			assert.NoError(t, err)
			check.True(t, tt.failed(result))
			check.False(t, result.IsValid())
		})
	}
}

func TestValidateReceipt_ForgedSignature(t *testing.T) {
	r := issueReceipt(t, "bid-2")
	forger := issueReceipt(t, "bid-1")

	// The forger's receipt names a key ID the verifier trusts, but is signed by another key.
	trusted := []TrustedKey{{KeyID: forger.keys.KeyID(), PublicKey: r.trusted[0].PublicKey}}
	result, err := ValidateReceipt(&ReceiptValidationInput{
		Receipt:       forger.cose,
		TrustedKeys:   trusted,
		ClearingPrice: pricePtr("3.50"),
	})
	assert.NoError(t, err)
	check.True(t, result.KeyTrusted)
	check.False(t, result.SignatureValid)
	check.False(t, result.IsValid())
}

func TestValidateReceipt_MalformedInput(t *testing.T) {
	_, err := ValidateReceipt(&ReceiptValidationInput{Receipt: "not-base64!!"})
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "decode COSE"))

	_, err = ValidateReceipt(&ReceiptValidationInput{Receipt: receiptapi.ReceiptCOSE([]byte("junk")).EncodeBase64()})
	check.Error(t, err)
}

func TestLoadTrustedKeysFromFile(t *testing.T) {
	r := issueReceipt(t, "")
	dir := t.TempDir()

	indented := "      " + strings.ReplaceAll(strings.TrimSpace(r.trusted[0].PublicKey), "\n", "\n      ")
	yamlPath := filepath.Join(dir, "keys.yaml")
	yamlDoc := fmt.Sprintf("keys:\n  - key_id: %s\n    label: prod\n    public_key: |\n%s\n", r.keys.KeyID(), indented)
	assert.NoError(t, os.WriteFile(yamlPath, []byte(yamlDoc), 0o600))

	keys, err := LoadTrustedKeysFromFile(yamlPath)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(keys))
	check.Equal(t, "prod", keys[0].Label)
	_, keyID, err := ParsePublicKeyPEM(keys[0].PublicKey)
	assert.NoError(t, err)
	check.Equal(t, r.keys.KeyID(), keyID)

	jsonPath := filepath.Join(dir, "keys.json")
	jsonDoc := fmt.Sprintf(`{"keys":[{"key_id":%q,"public_key":%q}]}`, r.keys.KeyID(), r.trusted[0].PublicKey)
	assert.NoError(t, os.WriteFile(jsonPath, []byte(jsonDoc), 0o600))
	keys, err = LoadTrustedKeysFromFile(jsonPath)
	assert.NoError(t, err)
	check.Equal(t, r.keys.KeyID(), keys[0].KeyID)

	emptyPath := filepath.Join(dir, "empty.yaml")
	assert.NoError(t, os.WriteFile(emptyPath, []byte("keys: []\n"), 0o600))
	_, err = LoadTrustedKeysFromFile(emptyPath)
	check.Error(t, err)

	_, err = LoadTrustedKeysFromFile(filepath.Join(dir, "missing.yaml"))
	check.Error(t, err)
}

func TestValidateKeyResponse(t *testing.T) {
	r := issueReceipt(t, "")
	pemKey := r.trusted[0].PublicKey

	result, err := ValidateKeyResponse(&receiptapi.KeyResponse{KeyID: r.keys.KeyID(), PublicKey: pemKey}, r.trusted)
	assert.NoError(t, err)
	check.True(t, result.IsValid())

	result, err = ValidateKeyResponse(&receiptapi.KeyResponse{KeyID: "bogus", PublicKey: pemKey}, r.trusted)
	assert.NoError(t, err)
	check.False(t, result.KeyIDMatch)
	check.True(t, result.KeyTrusted)

	other := issueReceipt(t, "")
	result, err = ValidateKeyResponse(&receiptapi.KeyResponse{KeyID: r.keys.KeyID(), PublicKey: pemKey}, other.trusted)
	assert.NoError(t, err)
	check.False(t, result.KeyTrusted)

	_, err = ValidateKeyResponse(&receiptapi.KeyResponse{PublicKey: "garbage"}, r.trusted)
	check.Error(t, err)
}
