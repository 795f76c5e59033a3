package demand

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/openprocure/core"
)

// Product is the master data the aggregator needs about a product. Product
// master data itself lives outside this system.
type Product struct {
	ID                string          `json:"id" yaml:"id"`
	Category          string          `json:"category" yaml:"category"`
	TargetQuantity    int64           `json:"target_quantity" yaml:"target_quantity"`
	MinViableQuantity int64           `json:"min_viable_quantity" yaml:"min_viable_quantity"`
	PriceFloor        decimal.Decimal `json:"price_floor" yaml:"price_floor"`
}

// Catalog resolves products.
type Catalog interface {
	Product(ctx context.Context, productID string) (Product, error)
}

// StaticCatalog is a Catalog backed by a map keyed by product ID.
type StaticCatalog map[string]Product

// NewStaticCatalog indexes products by ID, rejecting products that cannot form a lot.
func NewStaticCatalog(products []Product) (StaticCatalog, error) {
	c := make(StaticCatalog, len(products))
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("product without id: %w", core.ErrMissingIdentity)
		}
		if p.TargetQuantity <= 0 {
			return nil, fmt.Errorf("product %s target quantity: %w", p.ID, core.ErrInvalidQuantity)
		}
		if p.MinViableQuantity < 0 || p.MinViableQuantity > p.TargetQuantity {
			return nil, fmt.Errorf("product %s minimum viable quantity: %w", p.ID, core.ErrQuantityOutOfBounds)
		}
		if p.PriceFloor.IsNegative() {
			return nil, fmt.Errorf("product %s price floor: %w", p.ID, core.ErrInvalidPrice)
		}
		c[p.ID] = p
	}
	return c, nil
}

func (c StaticCatalog) Product(_ context.Context, productID string) (Product, error) {
	p, ok := c[productID]
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", productID, core.ErrProductNotFound)
	}
	return p, nil
}
