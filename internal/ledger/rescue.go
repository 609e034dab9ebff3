package ledger

import (
	"math/big"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/model"
)

// RescueMilestone is the milestone the single rescue tranche is bound to.
const RescueMilestone uint8 = 0

// MaxRescuePremiumBps caps every rescue premium at 50%.
const MaxRescuePremiumBps uint16 = 5000

// PremiumTier maps scores below Below to a premium.
type PremiumTier struct {
	Below      uint8
	PremiumBps uint16
}

// PremiumTiers is ordered by Below ascending; scores past the last tier get
// FloorPremiumBps.
var PremiumTiers = []PremiumTier{
	{Below: 5, PremiumBps: 5000},
	{Below: 16, PremiumBps: 4500},
	{Below: 25, PremiumBps: 3900},
	{Below: 50, PremiumBps: 3000},
}

// FloorPremiumBps applies to scores of 50 and above.
const FloorPremiumBps uint16 = 2000

// RescuePremiumBps returns the premium offered for a rescue at score.
// Lower scores never get a smaller premium.
func RescuePremiumBps(score uint8) uint16 {
	bps := FloorPremiumBps
	for _, tier := range PremiumTiers {
		if score < tier.Below {
			bps = tier.PremiumBps
			break
		}
	}
	if bps > MaxRescuePremiumBps {
		bps = MaxRescuePremiumBps
	}
	return bps
}

// rescueTarget converts the project's funding gap into wei at the configured
// native price, falling back to the minimum target.
func (l *Ledger) rescueTarget(projectID model.ProjectID, gaps GapProvider) *big.Int {
	fallback := new(big.Int).Set(l.cfg.MinRescueTarget)
	if gaps == nil || l.cfg.NativeUSDPrice <= 0 {
		return fallback
	}
	gap, err := gaps.FundingGapUSD(projectID)
	if err != nil {
		zap.L().Warn("funding gap unavailable, using minimum rescue target",
			zap.String("project", projectID.Short()), zap.Error(err))
		return fallback
	}
	if gap <= 0 {
		return fallback
	}
	target := new(big.Int).Mul(big.NewInt(int64(gap)), WeiPerUnit)
	target.Quo(target, big.NewInt(int64(l.cfg.NativeUSDPrice)))
	if target.Sign() <= 0 {
		return fallback
	}
	return target
}

// InitiateRescueFunding opens a RESCUE round for a project whose solvency
// collapsed. Only one open rescue round per project is allowed at a time.
func (l *Ledger) InitiateRescueFunding(caller model.Principal, projectID model.ProjectID, score uint8) (uint64, error) {
	if err := l.roles.Require(access.RoleSolvencyOracle, caller); err != nil {
		return 0, err
	}
	if score > 100 {
		return 0, eris.Wrapf(ErrInvalidScore, "score %d", score)
	}

	// The gap provider may take its own locks; ask it before ours.
	l.mu.RLock()
	gaps := l.gaps
	l.mu.RUnlock()
	target := l.rescueTarget(projectID, gaps)
	premium := RescuePremiumBps(score)

	var roundID uint64
	err := l.write(func(t *tx) error {
		for _, id := range l.st.ProjectRounds[projectID] {
			r := l.st.Rounds[id]
			if r.Type == model.RoundRescue && effectiveStatus(r, t.now) == model.RoundOpen {
				return eris.Wrapf(ErrRescueActive, "round %d still open", id)
			}
		}

		tranches := []model.Tranche{{MilestoneID: RescueMilestone, BasisPoints: model.MaxBasisPoints}}
		r := l.newRound(t, projectID, model.RoundRescue, target, t.now.Add(l.cfg.RescueWindow), tranches, premium)
		roundID = r.RoundID
		return nil
	})
	return roundID, err
}

func requiredPremium(r *model.FundingRound) *big.Int {
	return releasedAmount(r.TargetAmount, int64(r.RescuePremiumBps))
}

// DepositRescuePremium funds a rescue round's premium pool. Admin only. The
// pool never exceeds target * premiumBps / 10000.
func (l *Ledger) DepositRescuePremium(caller model.Principal, roundID uint64, amount *big.Int) error {
	if err := l.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return eris.Wrap(ErrInvalidAmount, "premium deposit must be positive")
	}

	return l.write(func(t *tx) error {
		r, ok := l.st.Rounds[roundID]
		if !ok {
			return ErrRoundNotFound
		}
		if r.Type != model.RoundRescue {
			return eris.Wrapf(ErrNotRescueRound, "round %d", roundID)
		}
		if !r.Status.AcceptsDeposits() {
			return eris.Wrapf(ErrRoundNotOpen, "round %d is %s", roundID, r.Status)
		}
		if t.now.After(r.Deadline) {
			l.expireIfDue(t, r)
			return eris.Wrapf(ErrDeadlinePassed, "round %d deadline %s", roundID, r.Deadline.Format(time.RFC3339))
		}
		required := requiredPremium(r)
		next := new(big.Int).Add(r.PremiumPoolBalance, amount)
		if next.Cmp(required) > 0 {
			return eris.Wrapf(ErrPremiumExceeded, "pool would hold %s of %s", next, required)
		}

		r.PremiumPoolBalance = next
		l.st.Balance.Add(l.st.Balance, amount)
		t.dirty = true

		t.emit(model.Event{
			Type:      model.EventRescuePremiumDeposited,
			ProjectID: r.ProjectID,
			RoundID:   roundID,
			Severity:  model.SeverityInfo,
			Message:   "rescue premium deposited",
			Attrs: map[string]string{
				"amount":   amount.String(),
				"pool":     next.String(),
				"required": required.String(),
			},
		})
		return nil
	})
}

// ReturnExpiredPremium pays the premium pool of an expired rescue round back
// to the admin. Investors of an expired round only recover principal.
func (l *Ledger) ReturnExpiredPremium(caller model.Principal, roundID uint64) (*big.Int, error) {
	if err := l.roles.RequireAdmin(caller); err != nil {
		return nil, err
	}

	var paid *big.Int
	err := l.write(func(t *tx) error {
		r, ok := l.st.Rounds[roundID]
		if !ok {
			return ErrRoundNotFound
		}
		if r.Type != model.RoundRescue {
			return eris.Wrapf(ErrNotRescueRound, "round %d", roundID)
		}
		l.expireIfDue(t, r)
		if r.Status != model.RoundExpired {
			return eris.Wrapf(ErrRoundNotExpired, "round %d is %s", roundID, r.Status)
		}
		if r.PremiumPoolBalance.Sign() == 0 {
			return eris.Wrapf(ErrNothingToClaim, "round %d premium pool is empty", roundID)
		}

		paid = new(big.Int).Set(r.PremiumPoolBalance)
		r.PremiumPoolBalance.SetInt64(0)
		l.st.Balance.Sub(l.st.Balance, paid)
		t.dirty = true

		t.emit(model.Event{
			Type:      model.EventRescuePremiumReturned,
			ProjectID: r.ProjectID,
			RoundID:   roundID,
			Severity:  model.SeverityInfo,
			Message:   "expired rescue premium returned",
			Attrs:     map[string]string{"amount": paid.String(), "recipient": string(caller)},
		})
		return nil
	})
	return paid, err
}

// RescuePremiumInfo reports the premium pool of a rescue round.
func (l *Ledger) RescuePremiumInfo(roundID uint64) (model.RescuePremiumInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.st.Rounds[roundID]
	if !ok {
		return model.RescuePremiumInfo{}, ErrRoundNotFound
	}
	if r.Type != model.RoundRescue {
		return model.RescuePremiumInfo{}, eris.Wrapf(ErrNotRescueRound, "round %d", roundID)
	}
	required := requiredPremium(r)
	return model.RescuePremiumInfo{
		RoundID:          roundID,
		PremiumBps:       r.RescuePremiumBps,
		RequiredPremium:  required,
		PremiumDeposited: new(big.Int).Set(r.PremiumPoolBalance),
		PremiumPaid:      new(big.Int).Set(r.PremiumPaid),
		FullyFunded:      r.PremiumPoolBalance.Cmp(required) >= 0,
	}, nil
}
