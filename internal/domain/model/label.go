package model

import "time"

// Resilience is the classifier's verdict over a product's estimate history.
type Resilience string

const (
	// PriceResilient marks demand that barely moved across all observed shocks.
	PriceResilient Resilience = "price_resilient"
	// ValueFragile marks demand that dropped hard after price shocks.
	ValueFragile Resilience = "value_fragile"
	// ReputationSensitive marks demand that dropped hard after perception shocks.
	ReputationSensitive Resilience = "reputation_sensitive"
)

// ResilienceLabels lists every label value in a stable order.
func ResilienceLabels() []Resilience {
	return []Resilience{PriceResilient, ValueFragile, ReputationSensitive}
}

// ResilienceLabel is one classification outcome. Labels are superseded, not
// overwritten: the store retains the full history per product.
type ResilienceLabel struct {
	ProductID  string     `json:"product_id"`
	Label      Resilience `json:"label"`
	ComputedAt time.Time  `json:"computed_at"`
}
