package ledger

import (
	"math/big"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"InfraSentinel/internal/model"
)

// CreateFundingRound opens a STANDARD round whose payout is gated by one
// tranche per milestone. Admin only.
func (l *Ledger) CreateFundingRound(caller model.Principal, projectID model.ProjectID, target *big.Int,
	deadline time.Time, milestoneIDs []uint8, trancheBps []uint16) (uint64, error) {
	if err := l.roles.RequireAdmin(caller); err != nil {
		return 0, err
	}
	if target == nil || target.Sign() <= 0 {
		return 0, eris.Wrap(ErrInvalidAmount, "target must be positive")
	}
	tranches, err := buildTranches(milestoneIDs, trancheBps)
	if err != nil {
		return 0, err
	}

	var roundID uint64
	err = l.write(func(t *tx) error {
		r := l.newRound(t, projectID, model.RoundStandard, target, deadline, tranches, 0)
		roundID = r.RoundID
		return nil
	})
	return roundID, err
}

func buildTranches(milestoneIDs []uint8, trancheBps []uint16) ([]model.Tranche, error) {
	if len(milestoneIDs) != len(trancheBps) {
		return nil, eris.Wrapf(ErrInvalidTrancheConfig, "%d milestones, %d tranche sizes", len(milestoneIDs), len(trancheBps))
	}
	if len(milestoneIDs) == 0 {
		return nil, eris.Wrap(ErrInvalidTrancheConfig, "no tranches")
	}

	seen := make(map[uint8]bool, len(milestoneIDs))
	tranches := make([]model.Tranche, len(milestoneIDs))
	var sum int
	for i, m := range milestoneIDs {
		if seen[m] {
			return nil, eris.Wrapf(ErrInvalidTrancheConfig, "milestone %d bound twice", m)
		}
		if trancheBps[i] == 0 {
			return nil, eris.Wrapf(ErrInvalidTrancheConfig, "milestone %d has zero basis points", m)
		}
		seen[m] = true
		sum += int(trancheBps[i])
		tranches[i] = model.Tranche{MilestoneID: m, BasisPoints: trancheBps[i]}
	}
	if sum > model.MaxBasisPoints {
		return nil, eris.Wrapf(ErrInvalidTrancheConfig, "tranches sum to %d bps", sum)
	}
	return tranches, nil
}

// newRound allocates the next id and stores the round. Caller holds the lock.
func (l *Ledger) newRound(t *tx, projectID model.ProjectID, typ model.RoundType, target *big.Int,
	deadline time.Time, tranches []model.Tranche, premiumBps uint16) *model.FundingRound {
	r := &model.FundingRound{
		RoundID:        l.st.NextRoundID,
		ProjectID:      projectID,
		Type:           typ,
		Status:         model.RoundOpen,
		TargetAmount:   new(big.Int).Set(target),
		TotalDeposited: new(big.Int),
		TotalReleased:  new(big.Int),
		Deadline:       deadline.UTC(),
		Tranches:       tranches,
		CreatedAt:      t.now.UTC(),
	}
	if typ == model.RoundRescue {
		r.RescuePremiumBps = premiumBps
		r.PremiumPoolBalance = new(big.Int)
		r.PremiumPaid = new(big.Int)
	}
	l.st.NextRoundID++
	l.st.Rounds[r.RoundID] = r
	l.st.ProjectRounds[projectID] = append(l.st.ProjectRounds[projectID], r.RoundID)
	l.st.Positions[r.RoundID] = make(map[model.Principal]*model.InvestorPosition)
	t.dirty = true

	attrs := map[string]string{
		"type":     typ.String(),
		"target":   target.String(),
		"tranches": strconv.Itoa(len(tranches)),
		"deadline": r.Deadline.Format(time.RFC3339),
	}
	if typ == model.RoundRescue {
		attrs["premium_bps"] = strconv.Itoa(int(premiumBps))
	}
	t.emit(model.Event{
		Type:      model.EventRoundCreated,
		ProjectID: projectID,
		RoundID:   r.RoundID,
		Severity:  model.SeverityInfo,
		Message:   "funding round created",
		Attrs:     attrs,
	})
	return r
}

// expireIfDue moves an under-target OPEN round past its deadline to EXPIRED.
func (l *Ledger) expireIfDue(t *tx, r *model.FundingRound) {
	if effectiveStatus(r, t.now) != model.RoundExpired || r.Status == model.RoundExpired {
		return
	}
	r.Status = model.RoundExpired
	t.dirty = true
	t.emit(model.Event{
		Type:      model.EventRoundExpired,
		ProjectID: r.ProjectID,
		RoundID:   r.RoundID,
		Severity:  model.SeverityWarn,
		Message:   "funding round expired under target",
		Attrs:     map[string]string{"deposited": r.TotalDeposited.String(), "target": r.TargetAmount.String()},
	})
}

// Invest deposits amount from caller into a round. Deposits beyond the
// target are accepted in full and simply raise TotalDeposited.
func (l *Ledger) Invest(caller model.Principal, roundID uint64, amount *big.Int) error {
	if caller == "" {
		return eris.Wrap(ErrInvalidAmount, "anonymous investor")
	}
	if amount == nil || amount.Sign() <= 0 {
		return eris.Wrap(ErrInvalidAmount, "deposit must be positive")
	}

	return l.write(func(t *tx) error {
		r, ok := l.st.Rounds[roundID]
		if !ok {
			return ErrRoundNotFound
		}
		if !r.Status.AcceptsDeposits() {
			return eris.Wrapf(ErrRoundNotOpen, "round %d is %s", roundID, r.Status)
		}
		if t.now.After(r.Deadline) {
			l.expireIfDue(t, r)
			return eris.Wrapf(ErrDeadlinePassed, "round %d deadline %s", roundID, r.Deadline.Format(time.RFC3339))
		}

		pos, ok := l.st.Positions[roundID][caller]
		if !ok {
			pos = &model.InvestorPosition{
				RoundID:        roundID,
				Investor:       caller,
				Shares:         new(big.Int),
				Claimed:        new(big.Int),
				PremiumClaimed: new(big.Int),
			}
			l.st.Positions[roundID][caller] = pos
			r.InvestorCount++
		}
		pos.Shares.Add(pos.Shares, amount)
		r.TotalDeposited.Add(r.TotalDeposited, amount)
		l.st.Balance.Add(l.st.Balance, amount)
		t.dirty = true

		t.emit(model.Event{
			Type:      model.EventInvested,
			ProjectID: r.ProjectID,
			RoundID:   roundID,
			Severity:  model.SeverityInfo,
			Message:   "investment received",
			Attrs: map[string]string{
				"investor":        string(caller),
				"amount":          amount.String(),
				"total_deposited": r.TotalDeposited.String(),
			},
		})

		if r.Status == model.RoundOpen && r.TotalDeposited.Cmp(r.TargetAmount) >= 0 {
			r.Status = model.RoundFunded
			t.emit(model.Event{
				Type:      model.EventRoundFunded,
				ProjectID: r.ProjectID,
				RoundID:   roundID,
				Severity:  model.SeverityInfo,
				Message:   "funding round reached target",
				Attrs:     map[string]string{"total_deposited": r.TotalDeposited.String()},
			})
		}
		return nil
	})
}

// RefundExpired returns an investor's unclaimed deposit from an expired round.
func (l *Ledger) RefundExpired(caller model.Principal, roundID uint64) (*big.Int, error) {
	var paid *big.Int
	err := l.write(func(t *tx) error {
		r, ok := l.st.Rounds[roundID]
		if !ok {
			return ErrRoundNotFound
		}
		l.expireIfDue(t, r)
		if r.Status != model.RoundExpired {
			return eris.Wrapf(ErrRoundNotExpired, "round %d is %s", roundID, r.Status)
		}
		pos, ok := l.st.Positions[roundID][caller]
		if !ok || pos.Refunded {
			return ErrNothingToClaim
		}
		amount := refundable(r, pos)
		if amount.Sign() <= 0 {
			return ErrNothingToClaim
		}
		pos.Refunded = true
		l.st.Balance.Sub(l.st.Balance, amount)
		t.dirty = true
		paid = amount

		t.emit(model.Event{
			Type:      model.EventExpiredRefund,
			ProjectID: r.ProjectID,
			RoundID:   roundID,
			Severity:  model.SeverityInfo,
			Message:   "expired round deposit refunded",
			Attrs:     map[string]string{"investor": string(caller), "amount": amount.String()},
		})
		return nil
	})
	return paid, err
}

// refundable is the part of a position's deposit not already paid out as principal.
func refundable(_ *model.FundingRound, pos *model.InvestorPosition) *big.Int {
	return new(big.Int).Sub(pos.Shares, pos.Claimed)
}
