package model

import (
	"math/big"
	"time"
)

// MaxBasisPoints is 100%.
const MaxBasisPoints = 10_000

// Principal identifies a caller: an administrator, an oracle store, or an investor.
type Principal string

// RoundType distinguishes regular rounds from emergency rescue rounds.
type RoundType uint8

const (
	RoundStandard RoundType = iota
	RoundRescue
)

func (t RoundType) String() string {
	switch t {
	case RoundStandard:
		return "STANDARD"
	case RoundRescue:
		return "RESCUE"
	default:
		return "UNKNOWN"
	}
}

// RoundStatus is the funding round state machine:
// OPEN -> FUNDED -> RELEASING -> COMPLETED, or OPEN -> EXPIRED.
type RoundStatus uint8

const (
	RoundOpen RoundStatus = iota
	RoundFunded
	RoundReleasing
	RoundCompleted
	RoundExpired
)

func (s RoundStatus) String() string {
	switch s {
	case RoundOpen:
		return "OPEN"
	case RoundFunded:
		return "FUNDED"
	case RoundReleasing:
		return "RELEASING"
	case RoundCompleted:
		return "COMPLETED"
	case RoundExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// AcceptsDeposits is true until the first tranche is released. A deposit
// after a release would dilute investors who have already claimed.
func (s RoundStatus) AcceptsDeposits() bool {
	return s == RoundOpen || s == RoundFunded
}

// Tranche is a milestone-gated slice of a round's target.
type Tranche struct {
	MilestoneID uint8     `json:"milestone_id"`
	BasisPoints uint16    `json:"basis_points"`
	Released    bool      `json:"released"`
	ReleasedAt  time.Time `json:"released_at,omitempty"`
}

// FundingRound is the ledger's record of one round. Amounts are wei.
type FundingRound struct {
	RoundID        uint64      `json:"round_id"`
	ProjectID      ProjectID   `json:"project_id"`
	Type           RoundType   `json:"type"`
	Status         RoundStatus `json:"status"`
	TargetAmount   *big.Int    `json:"target_amount"`
	TotalDeposited *big.Int    `json:"total_deposited"`
	TotalReleased  *big.Int    `json:"total_released"`
	Deadline       time.Time   `json:"deadline"`
	InvestorCount  int         `json:"investor_count"`
	Tranches       []Tranche   `json:"tranches"`
	CreatedAt      time.Time   `json:"created_at"`

	// Rescue rounds only.
	RescuePremiumBps   uint16   `json:"rescue_premium_bps,omitempty"`
	PremiumPoolBalance *big.Int `json:"premium_pool_balance,omitempty"`
	PremiumPaid        *big.Int `json:"premium_paid,omitempty"`
}

// Clone deep-copies the round so callers never alias ledger state.
func (r *FundingRound) Clone() FundingRound {
	out := *r
	out.TargetAmount = cloneInt(r.TargetAmount)
	out.TotalDeposited = cloneInt(r.TotalDeposited)
	out.TotalReleased = cloneInt(r.TotalReleased)
	out.PremiumPoolBalance = cloneInt(r.PremiumPoolBalance)
	out.PremiumPaid = cloneInt(r.PremiumPaid)
	out.Tranches = append([]Tranche(nil), r.Tranches...)
	return out
}

// ReleasedBasisPoints sums the basis points of released tranches.
func (r *FundingRound) ReleasedBasisPoints() int64 {
	var bps int64
	for _, t := range r.Tranches {
		if t.Released {
			bps += int64(t.BasisPoints)
		}
	}
	return bps
}

// InvestorPosition is a (round, investor) share balance. Shares are
// denominated in wei of deposit, so a round's shares always sum to its
// TotalDeposited.
type InvestorPosition struct {
	RoundID        uint64    `json:"round_id"`
	Investor       Principal `json:"investor"`
	Shares         *big.Int  `json:"shares"`
	Claimed        *big.Int  `json:"claimed"`         // principal paid out
	PremiumClaimed *big.Int  `json:"premium_claimed"` // rescue premium paid out
	Refunded       bool      `json:"refunded,omitempty"`
}

func (p *InvestorPosition) Clone() InvestorPosition {
	out := *p
	out.Shares = cloneInt(p.Shares)
	out.Claimed = cloneInt(p.Claimed)
	out.PremiumClaimed = cloneInt(p.PremiumClaimed)
	return out
}

// RescuePremiumInfo summarizes the premium pool of a rescue round.
type RescuePremiumInfo struct {
	RoundID          uint64   `json:"round_id"`
	PremiumBps       uint16   `json:"premium_bps"`
	RequiredPremium  *big.Int `json:"required_premium"`
	PremiumDeposited *big.Int `json:"premium_deposited"`
	PremiumPaid      *big.Int `json:"premium_paid"`
	FullyFunded      bool     `json:"fully_funded"`
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
