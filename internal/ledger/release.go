package ledger

import (
	"math/big"
	"strconv"

	"github.com/rotisserie/eris"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/model"
)

var maxBps = big.NewInt(model.MaxBasisPoints)

// ReleaseTranche releases every unreleased tranche bound to milestoneID in the
// project's funded rounds and returns the ids of the rounds it touched.
func (l *Ledger) ReleaseTranche(caller model.Principal, projectID model.ProjectID, milestoneID uint8) ([]uint64, error) {
	if err := l.roles.Require(access.RoleMilestoneOracle, caller); err != nil {
		return nil, err
	}

	var released []uint64
	err := l.write(func(t *tx) error {
		var matched, alreadyReleased, unfunded bool
		for _, roundID := range l.st.ProjectRounds[projectID] {
			r := l.st.Rounds[roundID]
			idx := trancheIndex(r, milestoneID)
			if idx < 0 {
				continue
			}
			matched = true
			if r.Tranches[idx].Released {
				alreadyReleased = true
				continue
			}
			if r.Status != model.RoundFunded && r.Status != model.RoundReleasing {
				unfunded = true
				continue
			}
			l.releaseAt(t, r, idx)
			released = append(released, roundID)
		}

		switch {
		case len(released) > 0:
			return nil
		case unfunded:
			return eris.Wrapf(ErrRoundNotFunded, "milestone %d of %s", milestoneID, projectID.Short())
		case alreadyReleased:
			return eris.Wrapf(ErrTrancheAlreadyReleased, "milestone %d of %s", milestoneID, projectID.Short())
		case !matched:
			return eris.Wrapf(ErrNoMatchingTranche, "milestone %d of %s", milestoneID, projectID.Short())
		}
		return nil
	})
	return released, err
}

func trancheIndex(r *model.FundingRound, milestoneID uint8) int {
	for i, tr := range r.Tranches {
		if tr.MilestoneID == milestoneID {
			return i
		}
	}
	return -1
}

func (l *Ledger) releaseAt(t *tx, r *model.FundingRound, idx int) {
	tr := &r.Tranches[idx]
	tr.Released = true
	tr.ReleasedAt = t.now.UTC()
	r.TotalReleased = releasedAmount(r.TargetAmount, r.ReleasedBasisPoints())
	t.dirty = true

	done := true
	for _, other := range r.Tranches {
		if !other.Released {
			done = false
			break
		}
	}
	if done {
		r.Status = model.RoundCompleted
	} else {
		r.Status = model.RoundReleasing
	}

	t.emit(model.Event{
		Type:      model.EventTrancheReleased,
		ProjectID: r.ProjectID,
		RoundID:   r.RoundID,
		Severity:  model.SeverityInfo,
		Message:   "tranche released",
		Attrs: map[string]string{
			"milestone":      strconv.Itoa(int(tr.MilestoneID)),
			"basis_points":   strconv.Itoa(int(tr.BasisPoints)),
			"total_released": r.TotalReleased.String(),
		},
	})
	if done {
		t.emit(model.Event{
			Type:      model.EventRoundCompleted,
			ProjectID: r.ProjectID,
			RoundID:   r.RoundID,
			Severity:  model.SeverityInfo,
			Message:   "all tranches released",
		})
	}
}

// releasedAmount is target * bps / 10000, floored.
func releasedAmount(target *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(target, big.NewInt(bps))
	return out.Quo(out, maxBps)
}

// Claim is the breakdown of one payout.
type Claim struct {
	Principal *big.Int
	Premium   *big.Int
}

// Total is principal plus premium.
func (c Claim) Total() *big.Int {
	return new(big.Int).Add(c.Principal, c.Premium)
}

// entitlement computes what pos may withdraw now given the round's releases.
func entitlement(r *model.FundingRound, pos *model.InvestorPosition) Claim {
	c := Claim{Principal: new(big.Int), Premium: new(big.Int)}
	if pos == nil || pos.Refunded || r.TotalDeposited.Sign() == 0 {
		return c
	}

	owed := new(big.Int).Mul(pos.Shares, r.TotalReleased)
	owed.Quo(owed, r.TotalDeposited)
	c.Principal.Sub(owed, pos.Claimed)

	if r.Type == model.RoundRescue && r.PremiumPoolBalance != nil {
		pool := releasedAmount(r.PremiumPoolBalance, r.ReleasedBasisPoints())
		share := new(big.Int).Mul(pos.Shares, pool)
		share.Quo(share, r.TotalDeposited)
		c.Premium.Sub(share, pos.PremiumClaimed)
	}

	if c.Principal.Sign() < 0 {
		c.Principal.SetInt64(0)
	}
	if c.Premium.Sign() < 0 {
		c.Premium.SetInt64(0)
	}
	return c
}

// Claimable previews what ClaimReleasedFunds would pay investor right now.
func (l *Ledger) Claimable(roundID uint64, investor model.Principal) (Claim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.st.Rounds[roundID]
	if !ok {
		return Claim{}, ErrRoundNotFound
	}
	return entitlement(r, l.st.Positions[roundID][investor]), nil
}

// ClaimReleasedFunds pays caller their pro-rata share of everything released
// so far that they have not already been paid. For rescue rounds the payout
// includes the matching share of the premium pool.
func (l *Ledger) ClaimReleasedFunds(caller model.Principal, roundID uint64) (Claim, error) {
	var paid Claim
	err := l.write(func(t *tx) error {
		r, ok := l.st.Rounds[roundID]
		if !ok {
			return ErrRoundNotFound
		}
		pos, ok := l.st.Positions[roundID][caller]
		if !ok {
			return eris.Wrapf(ErrNothingToClaim, "%s holds no position in round %d", caller, roundID)
		}
		c := entitlement(r, pos)
		total := c.Total()
		if total.Sign() == 0 {
			return eris.Wrapf(ErrNothingToClaim, "round %d", roundID)
		}

		pos.Claimed.Add(pos.Claimed, c.Principal)
		pos.PremiumClaimed.Add(pos.PremiumClaimed, c.Premium)
		if c.Premium.Sign() > 0 {
			r.PremiumPaid.Add(r.PremiumPaid, c.Premium)
		}
		l.st.Balance.Sub(l.st.Balance, total)
		t.dirty = true
		paid = c

		t.emit(model.Event{
			Type:      model.EventFundsClaimed,
			ProjectID: r.ProjectID,
			RoundID:   roundID,
			Severity:  model.SeverityInfo,
			Message:   "released funds claimed",
			Attrs: map[string]string{
				"investor":  string(caller),
				"principal": c.Principal.String(),
				"premium":   c.Premium.String(),
			},
		})
		return nil
	})
	return paid, err
}
