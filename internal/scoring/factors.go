package scoring

import (
	"fmt"

	"InfraSentinel/internal/model"
)

// Factor names, matching the report fields they fill.
const (
	FactorFinancialHealth = "financialHealth"
	FactorCostExposure    = "costExposure"
	FactorFundingMomentum = "fundingMomentum"
	FactorRunwayAdequacy  = "runwayAdequacy"
)

// Weights sum to 1.
const (
	weightFinancialHealth = 0.35
	weightCostExposure    = 0.25
	weightFundingMomentum = 0.20
	weightRunwayAdequacy  = 0.20
)

func factor(name string, raw, weight float64, commentary string) model.FactorScore {
	return model.FactorScore{
		Name:       name,
		RawScore:   raw,
		Weight:     weight,
		Weighted:   raw * weight,
		Commentary: commentary,
	}
}

// scoreFinancialHealth scores how much of the budget is either spent or on hand.
// Weight: 0.35
func scoreFinancialHealth(fin model.ProjectFinancials) model.FactorScore {
	if fin.TotalBudget <= 0 {
		return factor(FactorFinancialHealth, 0, weightFinancialHealth, "budget unavailable")
	}
	covered := float64(fin.CapitalDeployed+fin.CapitalRemaining) / float64(fin.TotalBudget) * 100

	var score float64
	switch {
	case covered >= 95:
		score = 100
	case covered >= 85:
		score = 85
	case covered >= 75:
		score = 70
	case covered >= 60:
		score = 50
	case covered >= 40:
		score = 30
	default:
		score = 10
	}
	return factor(FactorFinancialHealth, score, weightFinancialHealth, fmt.Sprintf("budget covered %.1f%%", covered))
}

// scoreCostExposure scores cash on hand against the cost still to be incurred.
// Weight: 0.25
func scoreCostExposure(fin model.ProjectFinancials) model.FactorScore {
	outstanding := fin.TotalBudget - fin.CapitalDeployed
	if outstanding <= 0 {
		return factor(FactorCostExposure, 100, weightCostExposure, "no outstanding cost")
	}
	coverage := float64(fin.CapitalRemaining) / float64(outstanding) * 100

	var score float64
	switch {
	case coverage >= 100:
		score = 100
	case coverage >= 80:
		score = 80
	case coverage >= 60:
		score = 60
	case coverage >= 40:
		score = 40
	case coverage >= 20:
		score = 20
	default:
		score = 5
	}
	return factor(FactorCostExposure, score, weightCostExposure, fmt.Sprintf("outstanding cost covered %.1f%%", coverage))
}

// scoreFundingMomentum scores monthly inflow against monthly burn.
// Weight: 0.20
func scoreFundingMomentum(fin model.ProjectFinancials) model.FactorScore {
	if fin.BurnRate <= 0 {
		return factor(FactorFundingMomentum, 100, weightFundingMomentum, "no burn")
	}
	ratio := float64(fin.FundingVelocity) / float64(fin.BurnRate)

	var score float64
	switch {
	case ratio >= 1.2:
		score = 100
	case ratio >= 1.0:
		score = 80
	case ratio >= 0.8:
		score = 60
	case ratio >= 0.5:
		score = 40
	case ratio >= 0.25:
		score = 20
	default:
		score = 5
	}
	return factor(FactorFundingMomentum, score, weightFundingMomentum, fmt.Sprintf("inflow/burn %.2f", ratio))
}

// scoreRunwayAdequacy scores months of runway at the current burn.
// Weight: 0.20
func scoreRunwayAdequacy(fin model.ProjectFinancials) model.FactorScore {
	if fin.BurnRate <= 0 {
		return factor(FactorRunwayAdequacy, 100, weightRunwayAdequacy, "no burn")
	}
	months := float64(fin.CapitalRemaining) / float64(fin.BurnRate)

	var score float64
	switch {
	case months >= 18:
		score = 100
	case months >= 12:
		score = 85
	case months >= 6:
		score = 60
	case months >= 3:
		score = 35
	case months >= 1:
		score = 15
	default:
		score = 0
	}
	return factor(FactorRunwayAdequacy, score, weightRunwayAdequacy, fmt.Sprintf("runway %.1f months", months))
}
