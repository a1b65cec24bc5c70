package domain

import "github.com/shopspring/decimal"

type CostBasisSource string

const (
	CostBasisManual     CostBasisSource = "manual"
	CostBasisProvider   CostBasisSource = "provider"
	CostBasisCalculated CostBasisSource = "calculated"
)

func (s CostBasisSource) priority() int {
	switch s {
	case CostBasisManual:
		return 3
	case CostBasisProvider:
		return 2
	case CostBasisCalculated:
		return 1
	default:
		return 0
	}
}

type CostBasisDecision struct {
	CostBasis    *decimal.Decimal
	Source       CostBasisSource
	ShouldUpdate bool
}

// ReconcileCostBasis decides whether an incoming cost basis replaces the one
// stored on existing (nil for a new holding). Manual values and locked values
// are never replaced by another source; otherwise the higher or equal ranked
// source wins. Missing or non-positive incoming values never replace anything.
func ReconcileCostBasis(existing *Holding, incoming *decimal.Decimal, source CostBasisSource) CostBasisDecision {
	keep := CostBasisDecision{}
	if existing != nil {
		keep.CostBasis = existing.CostBasis
		keep.Source = existing.CostBasisSource
	}

	if incoming == nil || !incoming.IsPositive() {
		return keep
	}
	if existing == nil || existing.CostBasis == nil {
		return CostBasisDecision{CostBasis: incoming, Source: source, ShouldUpdate: true}
	}
	if existing.CostBasisLocked && source != CostBasisManual {
		return keep
	}
	if existing.CostBasisSource == CostBasisManual && source != CostBasisManual {
		return keep
	}
	if source.priority() < existing.CostBasisSource.priority() {
		return keep
	}
	if existing.CostBasis.Equal(*incoming) && existing.CostBasisSource == source {
		return keep
	}
	return CostBasisDecision{CostBasis: incoming, Source: source, ShouldUpdate: true}
}
