// Package scoring derives a solvency report from a project's financials when
// no remote solvency feed is configured.
package scoring

import (
	"math"
	"time"

	"InfraSentinel/internal/model"
)

// Evaluate computes the weighted solvency assessment for a project. A rescue
// is flagged when the overall score falls below threshold.
func Evaluate(fin model.ProjectFinancials, threshold uint8) model.SolvencyAssessment {
	factors := []model.FactorScore{
		scoreFinancialHealth(fin),
		scoreCostExposure(fin),
		scoreFundingMomentum(fin),
		scoreRunwayAdequacy(fin),
	}

	var total float64
	for _, f := range factors {
		total += f.Weighted
	}
	overall := uint8(math.Round(math.Max(0, math.Min(100, total))))

	return model.SolvencyAssessment{
		Factors:       factors,
		OverallScore:  overall,
		RiskLevel:     model.RiskLevelForScore(overall),
		TriggerRescue: overall < threshold,
	}
}

// Report turns an assessment into the report the solvency store ingests.
func Report(id model.ProjectID, a model.SolvencyAssessment, at time.Time) model.SolvencyReport {
	r := model.SolvencyReport{
		ProjectID:       id,
		OverallScore:    a.OverallScore,
		RiskLevel:       a.RiskLevel,
		RescueTriggered: a.TriggerRescue,
		Timestamp:       uint64(at.Unix()),
	}
	for _, f := range a.Factors {
		raw := uint8(math.Round(f.RawScore))
		switch f.Name {
		case FactorFinancialHealth:
			r.FinancialHealth = raw
		case FactorCostExposure:
			r.CostExposure = raw
		case FactorFundingMomentum:
			r.FundingMomentum = raw
		case FactorRunwayAdequacy:
			r.RunwayAdequacy = raw
		}
	}
	return r
}
