package reserve

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/events"
	"InfraSentinel/internal/model"
)

const admin model.Principal = "admin"

var (
	now  = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	dam  = model.ProjectIDFromName("Riverside Dam")
	feed = eris.New("feed offline")
)

type stubSource map[model.ProjectID]model.ReserveAttestation

func (s stubSource) FetchReserveAttestation(_ context.Context, id model.ProjectID) (model.ReserveAttestation, error) {
	att, ok := s[id]
	if !ok {
		return model.ReserveAttestation{}, feed
	}
	return att, nil
}

type stubDeposits struct{ v *big.Int }

func (d stubDeposits) RecordedDeposits() *big.Int { return new(big.Int).Set(d.v) }

func newTestVerifier(t *testing.T, src AttestationSource, dep DepositReader) (*Verifier, *events.Memory) {
	t.Helper()
	mem := events.NewMemory()
	v := NewVerifier(admin, src, dep, mem)
	v.SetClock(func() time.Time { return now })
	return v, mem
}

func TestVerifyProjectReservesClassification(t *testing.T) {
	cases := []struct {
		name     string
		claimed  model.USD
		att      *model.ReserveAttestation
		status   model.ReserveStatus
		ratioBps int64
	}{
		{"fully backed", model.Dollars(1000), &model.ReserveAttestation{Reserves: model.Dollars(1000), AsOf: now}, model.ReserveVerified, 10_000},
		{"at minimum", model.Dollars(1000), &model.ReserveAttestation{Reserves: model.Dollars(800), AsOf: now}, model.ReserveVerified, 8000},
		{"short", model.Dollars(1000), &model.ReserveAttestation{Reserves: model.Dollars(799), AsOf: now}, model.ReserveUnderReserved, 7990},
		{"stale", model.Dollars(1000), &model.ReserveAttestation{Reserves: model.Dollars(1000), AsOf: now.Add(-25 * time.Hour)}, model.ReserveStaleData, 0},
		{"no timestamp", model.Dollars(1000), &model.ReserveAttestation{Reserves: model.Dollars(1000)}, model.ReserveStaleData, 0},
		{"nothing claimed", 0, &model.ReserveAttestation{Reserves: model.Dollars(5), AsOf: now}, model.ReserveUnverified, 0},
		{"feed down", model.Dollars(1000), nil, model.ReserveFeedUnavailable, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := stubSource{}
			if tc.att != nil {
				src[dam] = *tc.att
			}
			v, mem := newTestVerifier(t, src, nil)
			require.NoError(t, v.SetClaimedReserves(admin, dam, tc.claimed))

			rec, err := v.VerifyProjectReserves(context.Background(), dam)
			require.NoError(t, err)
			assert.Equal(t, tc.status, rec.Status)
			assert.Equal(t, tc.ratioBps, rec.RatioBps)
			assert.Equal(t, now, rec.Timestamp)

			stored, err := v.ProjectRecord(dam)
			require.NoError(t, err)
			assert.Equal(t, rec, stored)

			evts := mem.OfType(model.EventReserveVerified)
			require.Len(t, evts, 1)
			assert.Equal(t, tc.status.String(), evts[0].Attrs["status"])
		})
	}
}

func TestRecordIsOverwritten(t *testing.T) {
	src := stubSource{dam: {Reserves: model.Dollars(500), AsOf: now}}
	v, _ := newTestVerifier(t, src, nil)
	require.NoError(t, v.SetClaimedReserves(admin, dam, model.Dollars(1000)))

	rec, err := v.VerifyProjectReserves(context.Background(), dam)
	require.NoError(t, err)
	assert.Equal(t, model.ReserveUnderReserved, rec.Status)

	require.NoError(t, v.SetMinReserveRatio(admin, 5000))
	rec, err = v.VerifyProjectReserves(context.Background(), dam)
	require.NoError(t, err)
	assert.Equal(t, model.ReserveVerified, rec.Status)

	stored, err := v.ProjectRecord(dam)
	require.NoError(t, err)
	assert.Equal(t, model.ReserveVerified, stored.Status)
}

func TestMissingSourceIsFeedUnavailable(t *testing.T) {
	v, _ := newTestVerifier(t, nil, nil)
	rec, err := v.VerifyProjectReserves(context.Background(), dam)
	require.NoError(t, err)
	assert.Equal(t, model.ReserveFeedUnavailable, rec.Status)

	_, err = v.ProjectRecord(model.ProjectIDFromName("never checked"))
	assert.True(t, eris.Is(err, ErrNotVerified))
}

func TestAdminSetters(t *testing.T) {
	v, _ := newTestVerifier(t, nil, nil)

	assert.True(t, eris.Is(v.SetClaimedReserves("ops", dam, 1), access.ErrUnauthorized))
	assert.True(t, eris.Is(v.SetClaimedReserves(admin, dam, -1), ErrInvalidAmount))
	assert.True(t, eris.Is(v.SetMinReserveRatio(admin, 0), ErrInvalidRatio))
	assert.True(t, eris.Is(v.SetMinReserveRatio(admin, 10_001), ErrInvalidRatio))
	assert.True(t, eris.Is(v.SetMinReserveRatio("ops", 9000), access.ErrUnauthorized))
	assert.Error(t, v.SetMaxStaleness(admin, 0))
	assert.NoError(t, v.SetMaxStaleness(admin, time.Hour))

	require.NoError(t, v.SetClaimedReserves(admin, dam, model.Dollars(1)))
	assert.Equal(t, []model.ProjectID{dam}, v.ClaimedProjects())
}

func TestVerifyFundingEngineReserves(t *testing.T) {
	recorded := new(big.Int).Mul(big.NewInt(12), big.NewInt(1e18))
	v, mem := newTestVerifier(t, nil, stubDeposits{v: recorded})

	_, err := v.EngineRecord()
	assert.True(t, eris.Is(err, ErrNotVerified))

	rec, err := v.VerifyFundingEngineReserves(recorded)
	require.NoError(t, err)
	assert.Equal(t, model.ReserveVerified, rec.Status)
	assert.Equal(t, int64(10_000), rec.RatioBps)

	short := new(big.Int).Mul(big.NewInt(9), big.NewInt(1e18))
	rec, err = v.VerifyFundingEngineReserves(short)
	require.NoError(t, err)
	assert.Equal(t, model.ReserveUnderReserved, rec.Status)
	assert.Equal(t, int64(7500), rec.RatioBps)

	stored, err := v.EngineRecord()
	require.NoError(t, err)
	assert.Equal(t, model.ReserveUnderReserved, stored.Status)
	assert.Zero(t, stored.ContractBalance.Cmp(short))

	_, err = v.VerifyFundingEngineReserves(big.NewInt(-1))
	assert.True(t, eris.Is(err, ErrInvalidAmount))
	assert.Len(t, mem.OfType(model.EventReserveVerified), 2)
}

func TestEngineWithNothingRecorded(t *testing.T) {
	v, _ := newTestVerifier(t, nil, stubDeposits{v: new(big.Int)})
	rec, err := v.VerifyFundingEngineReserves(new(big.Int))
	require.NoError(t, err)
	assert.Equal(t, model.ReserveVerified, rec.Status)
	assert.Equal(t, int64(model.MaxBasisPoints), rec.RatioBps)

	v, _ = newTestVerifier(t, nil, nil)
	rec, err = v.VerifyFundingEngineReserves(new(big.Int))
	require.NoError(t, err)
	assert.Equal(t, model.ReserveFeedUnavailable, rec.Status)
}

func TestSetClockDuringVerification(t *testing.T) {
	src := stubSource{dam: {Reserves: model.Dollars(1000), AsOf: now}}
	v, _ := newTestVerifier(t, src, nil)
	require.NoError(t, v.SetClaimedReserves(admin, dam, model.Dollars(1000)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			v.SetClock(func() time.Time { return now })
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := v.VerifyProjectReserves(context.Background(), dam)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	rec, err := v.ProjectRecord(dam)
	require.NoError(t, err)
	assert.Equal(t, now, rec.Timestamp)
	assert.Equal(t, model.ReserveVerified, rec.Status)
}
