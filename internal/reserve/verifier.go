// Package reserve checks claimed reserves against attested figures and the
// funding ledger's balance against its own records.
package reserve

import (
	"context"
	"math"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/events"
	"InfraSentinel/internal/model"
)

const source = "reserve"

// Defaults.
const (
	DefaultMinRatioBps  = 8000
	DefaultMaxStaleness = 24 * time.Hour
)

var (
	ErrInvalidRatio  = eris.New("invalid reserve ratio")
	ErrInvalidAmount = eris.New("invalid reserve amount")
	ErrNotVerified   = eris.New("reserves never verified")
	ErrSourceUnset   = eris.New("attestation source not configured")
)

// AttestationSource supplies externally attested reserves.
type AttestationSource interface {
	FetchReserveAttestation(ctx context.Context, projectID model.ProjectID) (model.ReserveAttestation, error)
}

// DepositReader exposes what the funding ledger believes it holds.
type DepositReader interface {
	RecordedDeposits() *big.Int
}

// Verifier is the ReserveVerifier.
type Verifier struct {
	mu sync.RWMutex

	roles        *access.Registry
	attestations AttestationSource
	deposits     DepositReader
	claimed      map[model.ProjectID]model.USD
	minRatioBps  int64
	maxStaleness time.Duration
	records      map[model.ProjectID]model.ReserveRecord
	engine       *model.EngineReserveRecord
	events       events.Emitter

	clockMu sync.Mutex
	nowFn   func() time.Time
}

// NewVerifier creates a verifier reading attestations from src and ledger
// records from deposits. Either may be nil and is then reported as unavailable.
func NewVerifier(admin model.Principal, src AttestationSource, deposits DepositReader, em events.Emitter) *Verifier {
	if em == nil {
		em = events.Discard{}
	}
	return &Verifier{
		roles:        access.NewRegistry(admin, source, em),
		attestations: src,
		deposits:     deposits,
		claimed:      make(map[model.ProjectID]model.USD),
		minRatioBps:  DefaultMinRatioBps,
		maxStaleness: DefaultMaxStaleness,
		records:      make(map[model.ProjectID]model.ReserveRecord),
		events:       em,
		nowFn:        time.Now,
	}
}

func (v *Verifier) SetClock(fn func() time.Time) {
	v.clockMu.Lock()
	defer v.clockMu.Unlock()
	v.nowFn = fn
}

func (v *Verifier) now() time.Time {
	v.clockMu.Lock()
	defer v.clockMu.Unlock()
	return v.nowFn()
}

// SetClaimedReserves records what a project claims to hold. Admin only.
func (v *Verifier) SetClaimedReserves(caller model.Principal, id model.ProjectID, claimed model.USD) error {
	if err := v.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if claimed < 0 {
		return eris.Wrapf(ErrInvalidAmount, "claimed reserves %s", claimed)
	}
	v.mu.Lock()
	v.claimed[id] = claimed
	v.mu.Unlock()
	return nil
}

// SetMinReserveRatio sets the ratio in basis points a project must reach. Admin only.
func (v *Verifier) SetMinReserveRatio(caller model.Principal, bps int64) error {
	if err := v.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if bps <= 0 || bps > model.MaxBasisPoints {
		return eris.Wrapf(ErrInvalidRatio, "%d bps", bps)
	}
	v.mu.Lock()
	v.minRatioBps = bps
	v.mu.Unlock()
	return nil
}

// SetMaxStaleness bounds how old an attestation may be. Admin only.
func (v *Verifier) SetMaxStaleness(caller model.Principal, d time.Duration) error {
	if err := v.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if d <= 0 {
		return eris.Errorf("max staleness must be positive, got %s", d)
	}
	v.mu.Lock()
	v.maxStaleness = d
	v.mu.Unlock()
	return nil
}

// VerifyProjectReserves fetches the latest attestation and classifies it
// against the claimed reserves. The previous record is overwritten.
func (v *Verifier) VerifyProjectReserves(ctx context.Context, id model.ProjectID) (model.ReserveRecord, error) {
	v.mu.RLock()
	src := v.attestations
	claimed := v.claimed[id]
	minRatio := v.minRatioBps
	maxAge := v.maxStaleness
	v.mu.RUnlock()

	now := v.now().UTC()
	rec := model.ReserveRecord{ProjectID: id, ClaimedReserves: claimed, Timestamp: now}

	att, err := fetch(ctx, src, id)
	switch {
	case err != nil:
		zap.L().Warn("reserve attestation unavailable", zap.String("project", id.Short()), zap.Error(err))
		rec.Status = model.ReserveFeedUnavailable
	case att.AsOf.IsZero() || now.Sub(att.AsOf) > maxAge:
		rec.ReportedReserves = att.Reserves
		rec.Status = model.ReserveStaleData
	case claimed == 0:
		rec.ReportedReserves = att.Reserves
		rec.Status = model.ReserveUnverified
	default:
		rec.ReportedReserves = att.Reserves
		rec.RatioBps = ratioBps(big.NewInt(int64(att.Reserves)), big.NewInt(int64(claimed)))
		if rec.RatioBps >= minRatio {
			rec.Status = model.ReserveVerified
		} else {
			rec.Status = model.ReserveUnderReserved
		}
	}

	v.mu.Lock()
	v.records[id] = rec
	v.mu.Unlock()

	v.emit(model.Event{
		Type:      model.EventReserveVerified,
		ProjectID: id,
		Severity:  severityFor(rec.Status),
		Message:   "project reserves " + rec.Status.String(),
		Attrs: map[string]string{
			"status":    rec.Status.String(),
			"ratio_bps": strconv.FormatInt(rec.RatioBps, 10),
			"claimed":   strconv.FormatInt(int64(rec.ClaimedReserves), 10),
			"reported":  strconv.FormatInt(int64(rec.ReportedReserves), 10),
		},
	})
	return rec, nil
}

func fetch(ctx context.Context, src AttestationSource, id model.ProjectID) (model.ReserveAttestation, error) {
	if src == nil {
		return model.ReserveAttestation{}, ErrSourceUnset
	}
	return src.FetchReserveAttestation(ctx, id)
}

// VerifyFundingEngineReserves compares the ledger's actual balance with the
// deposits its own records account for.
func (v *Verifier) VerifyFundingEngineReserves(actual *big.Int) (model.EngineReserveRecord, error) {
	if actual == nil || actual.Sign() < 0 {
		return model.EngineReserveRecord{}, eris.Wrap(ErrInvalidAmount, "actual balance")
	}
	v.mu.RLock()
	deposits := v.deposits
	v.mu.RUnlock()

	rec := model.EngineReserveRecord{
		ContractBalance: new(big.Int).Set(actual),
		Timestamp:       v.now().UTC(),
	}
	if deposits == nil {
		rec.ReportedDeposits = new(big.Int)
		rec.Status = model.ReserveFeedUnavailable
	} else {
		rec.ReportedDeposits = deposits.RecordedDeposits()
		switch {
		case rec.ReportedDeposits.Sign() == 0:
			rec.RatioBps = model.MaxBasisPoints
		default:
			rec.RatioBps = ratioBps(actual, rec.ReportedDeposits)
		}
		if actual.Cmp(rec.ReportedDeposits) >= 0 {
			rec.Status = model.ReserveVerified
		} else {
			rec.Status = model.ReserveUnderReserved
		}
	}

	stored := rec
	stored.ContractBalance = new(big.Int).Set(rec.ContractBalance)
	stored.ReportedDeposits = new(big.Int).Set(rec.ReportedDeposits)
	v.mu.Lock()
	v.engine = &stored
	v.mu.Unlock()

	v.emit(model.Event{
		Type:     model.EventReserveVerified,
		Severity: severityFor(rec.Status),
		Message:  "funding engine reserves " + rec.Status.String(),
		Attrs: map[string]string{
			"status":    rec.Status.String(),
			"ratio_bps": strconv.FormatInt(rec.RatioBps, 10),
			"balance":   rec.ContractBalance.String(),
			"deposits":  rec.ReportedDeposits.String(),
		},
	})
	return rec, nil
}

// ProjectRecord returns the last verification of a project.
func (v *Verifier) ProjectRecord(id model.ProjectID) (model.ReserveRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[id]
	if !ok {
		return model.ReserveRecord{ProjectID: id, ClaimedReserves: v.claimed[id]}, ErrNotVerified
	}
	return rec, nil
}

// EngineRecord returns the last funding engine self-check.
func (v *Verifier) EngineRecord() (model.EngineReserveRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.engine == nil {
		return model.EngineReserveRecord{}, ErrNotVerified
	}
	rec := *v.engine
	rec.ContractBalance = new(big.Int).Set(v.engine.ContractBalance)
	rec.ReportedDeposits = new(big.Int).Set(v.engine.ReportedDeposits)
	return rec, nil
}

// ClaimedProjects lists projects with configured claimed reserves in a stable order.
func (v *Verifier) ClaimedProjects() []model.ProjectID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]model.ProjectID, 0, len(v.claimed))
	for id := range v.claimed {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ratioBps is num*10000/den, saturating at MaxInt64.
func ratioBps(num, den *big.Int) int64 {
	r := new(big.Int).Mul(num, big.NewInt(model.MaxBasisPoints))
	r.Quo(r, den)
	if !r.IsInt64() {
		return math.MaxInt64
	}
	return r.Int64()
}

func severityFor(s model.ReserveStatus) string {
	if s == model.ReserveVerified {
		return model.SeverityInfo
	}
	return model.SeverityWarn
}

func (v *Verifier) emit(evt model.Event) {
	evt.Source = source
	evt.At = v.now().UTC()
	v.events.Emit(evt)
}
