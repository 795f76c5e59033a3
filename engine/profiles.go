package engine

// SupplierProfiles resolves supplier master data the engine enforces.
type SupplierProfiles interface {
	// MinOrderQuantity is the smallest quantity the supplier declared it will ship.
	MinOrderQuantity(supplierID string) int64
}

// StaticSupplierProfiles maps supplier IDs to declared minimum order quantities.
// Unknown suppliers have a minimum of 1.
type StaticSupplierProfiles map[string]int64

func (p StaticSupplierProfiles) MinOrderQuantity(supplierID string) int64 {
	if moq, ok := p[supplierID]; ok && moq > 0 {
		return moq
	}
	return 1
}
