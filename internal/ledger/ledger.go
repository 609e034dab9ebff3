// Package ledger is the funding ledger: round and tranche lifecycle, investor
// share accounting and the rescue-funding protocol.
//
// All mutations run one at a time under a single writer lock. Reads take the
// read lock and return copies, so they always observe a state between two
// complete operations. Events produced by a mutation are published after the
// lock is released, in the order they were produced.
package ledger

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/events"
	"InfraSentinel/internal/model"
)

const source = "ledger"

// WeiPerUnit is 10^18, one whole unit of the native currency.
var WeiPerUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Defaults.
const (
	DefaultRescueWindow = 14 * 24 * time.Hour
)

// DefaultMinRescueTarget is used when no funding gap can be derived: 10 units.
func DefaultMinRescueTarget() *big.Int {
	return new(big.Int).Mul(big.NewInt(10), WeiPerUnit)
}

// GapProvider reports a project's outstanding funding gap in USD.
type GapProvider interface {
	FundingGapUSD(projectID model.ProjectID) (model.USD, error)
}

// Config controls a Ledger.
type Config struct {
	// NativeUSDPrice is the USD value of one whole native unit, used to turn a
	// funding gap into a rescue target.
	NativeUSDPrice  model.USD
	MinRescueTarget *big.Int
	RescueWindow    time.Duration
	// StateFile, if set, is loaded on start and rewritten after every mutation.
	StateFile string
}

// Ledger is the FundingLedger.
type Ledger struct {
	mu     sync.RWMutex
	cfg    Config
	st     *state
	roles  *access.Registry
	gaps   GapProvider
	events events.Emitter
	nowFn  func() time.Time
}

// New creates a Ledger administered by admin, loading state from cfg.StateFile if present.
func New(admin model.Principal, cfg Config, em events.Emitter) (*Ledger, error) {
	if cfg.MinRescueTarget == nil || cfg.MinRescueTarget.Sign() <= 0 {
		cfg.MinRescueTarget = DefaultMinRescueTarget()
	}
	if cfg.RescueWindow <= 0 {
		cfg.RescueWindow = DefaultRescueWindow
	}
	if em == nil {
		em = events.Discard{}
	}

	st := newState()
	if cfg.StateFile != "" {
		loaded, err := loadState(cfg.StateFile)
		if err != nil {
			return nil, err
		}
		st = loaded
	}

	return &Ledger{
		cfg:    cfg,
		st:     st,
		roles:  access.NewRegistry(admin, source, em),
		events: em,
		nowFn:  time.Now,
	}, nil
}

// SetClock overrides the time source used for deadlines.
func (l *Ledger) SetClock(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = fn
}

// SetGapProvider wires the source of funding gaps for rescue targets. Admin only.
func (l *Ledger) SetGapProvider(caller model.Principal, gp GapProvider) error {
	if err := l.roles.RequireAdmin(caller); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gaps = gp
	return nil
}

// GrantRole gives an oracle role to a principal. Admin only.
func (l *Ledger) GrantRole(caller model.Principal, role access.Role, p model.Principal) error {
	return l.roles.Grant(caller, role, p)
}

// RevokeRole removes an oracle role from a principal. Admin only.
func (l *Ledger) RevokeRole(caller model.Principal, role access.Role, p model.Principal) error {
	return l.roles.Revoke(caller, role, p)
}

// HasRole reports whether p holds role on the ledger.
func (l *Ledger) HasRole(role access.Role, p model.Principal) bool {
	return l.roles.Has(role, p)
}

// tx collects the effects of one mutation.
type tx struct {
	now    time.Time
	events []model.Event
	dirty  bool
}

func (t *tx) emit(evt model.Event) {
	evt.Source = source
	evt.At = t.now.UTC()
	t.events = append(t.events, evt)
}

// write runs fn under the writer lock, persists the state if fn changed it,
// then publishes fn's events. State changes and events made before fn returns
// an error are kept; fn only returns errors before mutating, except for lazy
// expiry which is deliberately retained.
func (l *Ledger) write(fn func(t *tx) error) error {
	l.mu.Lock()
	t := &tx{now: l.nowFn()}
	err := fn(t)
	if t.dirty && l.cfg.StateFile != "" {
		if serr := saveState(l.cfg.StateFile, l.st); serr != nil {
			zap.L().Error("failed to save ledger state", zap.String("path", l.cfg.StateFile), zap.Error(serr))
		}
	}
	l.mu.Unlock()

	for _, evt := range t.events {
		l.events.Emit(evt)
	}
	return err
}

// effectiveStatus applies lazy expiry without mutating.
func effectiveStatus(r *model.FundingRound, now time.Time) model.RoundStatus {
	if r.Status == model.RoundOpen && now.After(r.Deadline) && r.TotalDeposited.Cmp(r.TargetAmount) < 0 {
		return model.RoundExpired
	}
	return r.Status
}

// RoundInfo returns a copy of a round with expiry applied.
func (l *Ledger) RoundInfo(roundID uint64) (model.FundingRound, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.st.Rounds[roundID]
	if !ok {
		return model.FundingRound{}, ErrRoundNotFound
	}
	out := r.Clone()
	out.Status = effectiveStatus(r, l.nowFn())
	return out, nil
}

// RoundTranches returns a copy of a round's tranches.
func (l *Ledger) RoundTranches(roundID uint64) ([]model.Tranche, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.st.Rounds[roundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return append([]model.Tranche(nil), r.Tranches...), nil
}

// ProjectRounds lists a project's round ids in creation order.
func (l *Ledger) ProjectRounds(projectID model.ProjectID) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]uint64(nil), l.st.ProjectRounds[projectID]...)
}

// Rounds returns every round ordered by id.
func (l *Ledger) Rounds() []model.FundingRound {
	return l.Snapshot().Rounds
}

// Position returns an investor's position in a round.
func (l *Ledger) Position(roundID uint64, investor model.Principal) (model.InvestorPosition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.st.Positions[roundID][investor]
	if !ok {
		return model.InvestorPosition{}, false
	}
	return p.Clone(), true
}

// Positions returns every position in a round ordered by investor.
func (l *Ledger) Positions(roundID uint64) []model.InvestorPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.InvestorPosition, 0, len(l.st.Positions[roundID]))
	for _, p := range l.st.Positions[roundID] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Investor < out[j].Investor })
	return out
}

// Balance is the native currency the ledger holds: funds in minus funds out.
func (l *Ledger) Balance() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.st.Balance)
}

// RecordedDeposits recomputes what the ledger should hold from round and
// position records: deposits plus premium pools, less everything paid out.
func (l *Ledger) RecordedDeposits() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.recordedDeposits()
}

func (l *Ledger) recordedDeposits() *big.Int {
	total := new(big.Int)
	for _, r := range l.st.Rounds {
		total.Add(total, r.TotalDeposited)
		if r.PremiumPoolBalance != nil {
			total.Add(total, r.PremiumPoolBalance)
		}
	}
	for roundID, byInvestor := range l.st.Positions {
		for _, p := range byInvestor {
			total.Sub(total, p.Claimed)
			total.Sub(total, p.PremiumClaimed)
			if p.Refunded {
				total.Sub(total, refundable(l.st.Rounds[roundID], p))
			}
		}
	}
	return total
}

// Snapshot is a consistent copy of the whole ledger.
type Snapshot struct {
	Rounds           []model.FundingRound
	Balance          *big.Int
	RecordedDeposits *big.Int
	TakenAt          time.Time
}

// Snapshot copies every round and the balances under one read lock.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.nowFn()
	snap := Snapshot{
		Rounds:           make([]model.FundingRound, 0, len(l.st.Rounds)),
		Balance:          new(big.Int).Set(l.st.Balance),
		RecordedDeposits: l.recordedDeposits(),
		TakenAt:          now.UTC(),
	}
	for _, r := range l.st.Rounds {
		c := r.Clone()
		c.Status = effectiveStatus(r, now)
		snap.Rounds = append(snap.Rounds, c)
	}
	sort.Slice(snap.Rounds, func(i, j int) bool { return snap.Rounds[i].RoundID < snap.Rounds[j].RoundID })
	return snap
}
