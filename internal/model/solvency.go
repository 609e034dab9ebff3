package model

import "time"

// RiskLevel is the 4-tier classification of a solvency score.
type RiskLevel uint8

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// Tier boundaries on the 0-100 overall score.
const (
	LowRiskMinScore    = 75
	MediumRiskMinScore = 50
	HighRiskMinScore   = 25
)

// RiskLevelForScore maps an overall score to its tier.
func RiskLevelForScore(score uint8) RiskLevel {
	switch {
	case score >= LowRiskMinScore:
		return RiskLow
	case score >= MediumRiskMinScore:
		return RiskMedium
	case score >= HighRiskMinScore:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func (r RiskLevel) Valid() bool { return r <= RiskCritical }

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// SolvencyReport is one solvency oracle observation for a project.
type SolvencyReport struct {
	ProjectID       ProjectID `json:"project_id"`
	OverallScore    uint8     `json:"overall_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	FinancialHealth uint8     `json:"financial_health"`
	CostExposure    uint8     `json:"cost_exposure"`
	FundingMomentum uint8     `json:"funding_momentum"`
	RunwayAdequacy  uint8     `json:"runway_adequacy"`
	RescueTriggered bool      `json:"rescue_triggered"`
	Timestamp       uint64    `json:"timestamp"`
}

// Time converts the unix timestamp.
func (r SolvencyReport) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0).UTC()
}

// FactorScore is a single weighted component of a computed solvency score.
type FactorScore struct {
	Name       string
	RawScore   float64 // 0-100
	Weight     float64
	Weighted   float64
	Commentary string
}

// SolvencyAssessment is the scoring engine's output before it becomes a report.
type SolvencyAssessment struct {
	Factors       []FactorScore
	OverallScore  uint8
	RiskLevel     RiskLevel
	TriggerRescue bool
}
