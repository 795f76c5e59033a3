package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/demand"
	"github.com/cloudx-io/openprocure/engine"
)

// SupplierProfile is a supplier's declared minimum order quantity.
type SupplierProfile struct {
	ID               string `yaml:"id"`
	MinOrderQuantity int64  `yaml:"min_order_quantity"`
}

// Seed is the startup data: catalog products, supplier profiles and auto-bid rules.
type Seed struct {
	Products  []demand.Product   `yaml:"products"`
	Suppliers []SupplierProfile  `yaml:"suppliers"`
	Rules     []core.AutoBidRule `yaml:"rules"`
}

// LoadSeed reads a YAML seed file. An empty path yields an empty seed.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return &Seed{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	for _, s := range seed.Suppliers {
		if s.ID == "" {
			return nil, fmt.Errorf("seed supplier without id: %w", core.ErrMissingIdentity)
		}
		if s.MinOrderQuantity < 0 {
			return nil, fmt.Errorf("seed supplier %s: %w", s.ID, core.ErrInvalidQuantity)
		}
	}
	return &seed, nil
}

// Catalog builds the static catalog from the seeded products.
func (s *Seed) Catalog() (demand.StaticCatalog, error) {
	return demand.NewStaticCatalog(s.Products)
}

// Profiles builds supplier profiles from the seeded suppliers.
func (s *Seed) Profiles() engine.StaticSupplierProfiles {
	p := make(engine.StaticSupplierProfiles, len(s.Suppliers))
	for _, sup := range s.Suppliers {
		p[sup.ID] = sup.MinOrderQuantity
	}
	return p
}
