package ledger

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/events"
	"InfraSentinel/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	admin     model.Principal = "admin"
	milestone model.Principal = "milestone-store"
	solvency  model.Principal = "solvency-store"
	alice     model.Principal = "alice"
	bob       model.Principal = "bob"
)

var (
	start   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	project = model.ProjectIDFromName("Tideway Bridge")
)

// eth returns thousandths of a unit in wei, so eth(2500) is 2.5 units.
func eth(milli int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(milli), WeiPerUnit)
	return v.Quo(v, big.NewInt(1000))
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type gapStub struct {
	gap model.USD
	err error
}

func (g gapStub) FundingGapUSD(model.ProjectID) (model.USD, error) { return g.gap, g.err }

func newTestLedger(t *testing.T, cfg Config) (*Ledger, *events.Memory, *clock) {
	t.Helper()
	mem := events.NewMemory()
	l, err := New(admin, cfg, mem)
	require.NoError(t, err)
	clk := &clock{now: start}
	l.SetClock(clk.Now)
	require.NoError(t, l.GrantRole(admin, access.RoleMilestoneOracle, milestone))
	require.NoError(t, l.GrantRole(admin, access.RoleSolvencyOracle, solvency))
	return l, mem, clk
}

func quarterRound(t *testing.T, l *Ledger, target *big.Int) uint64 {
	t.Helper()
	id, err := l.CreateFundingRound(admin, project, target, start.Add(30*24*time.Hour),
		[]uint8{0, 1, 2, 3}, []uint16{2500, 2500, 2500, 2500})
	require.NoError(t, err)
	return id
}

func TestStandardRoundLifecycle(t *testing.T) {
	l, mem, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(10_000))
	assert.Equal(t, uint64(1), id)

	require.NoError(t, l.Invest(alice, id, eth(10_000)))
	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundFunded, info.Status)
	assert.Equal(t, 1, info.InvestorCount)

	touched, err := l.ReleaseTranche(milestone, project, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, touched)

	info, err = l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundReleasing, info.Status)
	assert.Equal(t, eth(2500), info.TotalReleased)

	paid, err := l.ClaimReleasedFunds(alice, id)
	require.NoError(t, err)
	assert.Equal(t, eth(2500), paid.Total())

	_, err = l.ClaimReleasedFunds(alice, id)
	assert.True(t, eris.Is(err, ErrNothingToClaim))

	assert.Equal(t, eth(7500), l.Balance())
	assert.Zero(t, l.Balance().Cmp(l.RecordedDeposits()))
	assert.Equal(t, []model.EventType{
		model.EventRoleGranted, model.EventRoleGranted,
		model.EventRoundCreated, model.EventInvested, model.EventRoundFunded,
		model.EventTrancheReleased, model.EventFundsClaimed,
	}, mem.Types())
}

func TestRoundCompletesAfterLastTranche(t *testing.T) {
	l, mem, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(4000))
	require.NoError(t, l.Invest(alice, id, eth(4000)))

	for m := uint8(0); m < 4; m++ {
		_, err := l.ReleaseTranche(milestone, project, m)
		require.NoError(t, err)
	}
	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundCompleted, info.Status)
	assert.Equal(t, eth(4000), info.TotalReleased)
	assert.Len(t, mem.OfType(model.EventRoundCompleted), 1)

	err = l.Invest(bob, id, eth(1000))
	assert.True(t, eris.Is(err, ErrRoundNotOpen))

	paid, err := l.ClaimReleasedFunds(alice, id)
	require.NoError(t, err)
	assert.Equal(t, eth(4000), paid.Principal)
	assert.Equal(t, 0, l.Balance().Sign())
}

func TestProRataClaims(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	id, err := l.CreateFundingRound(admin, project, eth(10_000), start.Add(time.Hour),
		[]uint8{4, 7}, []uint16{5000, 5000})
	require.NoError(t, err)

	require.NoError(t, l.Invest(alice, id, eth(3000)))
	require.NoError(t, l.Invest(bob, id, eth(7000)))

	_, err = l.ReleaseTranche(milestone, project, 4)
	require.NoError(t, err)

	a, err := l.ClaimReleasedFunds(alice, id)
	require.NoError(t, err)
	b, err := l.ClaimReleasedFunds(bob, id)
	require.NoError(t, err)
	assert.Equal(t, eth(1500), a.Total())
	assert.Equal(t, eth(3500), b.Total())

	_, err = l.ReleaseTranche(milestone, project, 7)
	require.NoError(t, err)
	preview, err := l.Claimable(id, alice)
	require.NoError(t, err)
	assert.Equal(t, eth(1500), preview.Principal)

	a, err = l.ClaimReleasedFunds(alice, id)
	require.NoError(t, err)
	assert.Equal(t, eth(1500), a.Total())

	pos, ok := l.Position(id, alice)
	require.True(t, ok)
	assert.Equal(t, eth(3000), pos.Shares)
	assert.Equal(t, eth(3000), pos.Claimed)
}

func TestOverfundingAcceptedInFull(t *testing.T) {
	l, mem, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(10_000))

	require.NoError(t, l.Invest(alice, id, eth(6000)))
	require.NoError(t, l.Invest(bob, id, eth(6000)))
	require.NoError(t, l.Invest(bob, id, eth(1000)))

	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundFunded, info.Status)
	assert.Equal(t, eth(13_000), info.TotalDeposited)
	assert.Equal(t, 2, info.InvestorCount)
	assert.Len(t, mem.OfType(model.EventRoundFunded), 1)

	pa, ok := l.Position(id, alice)
	require.True(t, ok)
	assert.Equal(t, eth(6000), pa.Shares)
	pb, ok := l.Position(id, bob)
	require.True(t, ok)
	assert.Equal(t, eth(7000), pb.Shares)

	_, err = l.ReleaseTranche(milestone, project, 0)
	require.NoError(t, err)
	info, err = l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, eth(2500), info.TotalReleased)

	// 6/13 and 7/13 of the release, floored.
	share := func(shares *big.Int) *big.Int {
		v := new(big.Int).Mul(shares, info.TotalReleased)
		return v.Quo(v, info.TotalDeposited)
	}
	ca, err := l.ClaimReleasedFunds(alice, id)
	require.NoError(t, err)
	assert.Equal(t, share(eth(6000)), ca.Principal)
	cb, err := l.ClaimReleasedFunds(bob, id)
	require.NoError(t, err)
	assert.Equal(t, share(eth(7000)), cb.Principal)

	paid := new(big.Int).Add(ca.Principal, cb.Principal)
	assert.LessOrEqual(t, paid.Cmp(info.TotalReleased), 0)
	assert.LessOrEqual(t, new(big.Int).Sub(info.TotalReleased, paid).Int64(), int64(1))
}

func claimedTotal(l *Ledger, roundID uint64) *big.Int {
	sum := new(big.Int)
	for _, pos := range l.Positions(roundID) {
		sum.Add(sum, pos.Claimed)
	}
	return sum
}

func TestDepositsCloseOnceReleasing(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(10_000))
	require.NoError(t, l.Invest(alice, id, eth(10_000)))
	_, err := l.ReleaseTranche(milestone, project, 0)
	require.NoError(t, err)

	paid, err := l.ClaimReleasedFunds(alice, id)
	require.NoError(t, err)
	assert.Equal(t, eth(2500), paid.Principal)

	err = l.Invest(bob, id, eth(10_000))
	assert.True(t, eris.Is(err, ErrRoundNotOpen))
	_, err = l.ClaimReleasedFunds(bob, id)
	assert.True(t, eris.Is(err, ErrNothingToClaim))

	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, eth(10_000), info.TotalDeposited)
	assert.LessOrEqual(t, claimedTotal(l, id).Cmp(info.TotalReleased), 0)

	for m := uint8(1); m < 4; m++ {
		_, err = l.ReleaseTranche(milestone, project, m)
		require.NoError(t, err)
	}
	_, err = l.ClaimReleasedFunds(alice, id)
	require.NoError(t, err)
	info, err = l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, info.TotalReleased, claimedTotal(l, id))
	assert.Equal(t, 0, l.Balance().Sign())
}

func TestInvestValidation(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(10_000))

	assert.True(t, eris.Is(l.Invest(alice, id, big.NewInt(0)), ErrInvalidAmount))
	assert.True(t, eris.Is(l.Invest(alice, id, nil), ErrInvalidAmount))
	assert.True(t, eris.Is(l.Invest("", id, eth(1)), ErrInvalidAmount))
	assert.True(t, eris.Is(l.Invest(alice, 99, eth(1)), ErrRoundNotFound))
}

func TestDeadlineExpiresRoundAndAllowsRefund(t *testing.T) {
	l, mem, clk := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(10_000))
	require.NoError(t, l.Invest(alice, id, eth(4000)))

	clk.Advance(31 * 24 * time.Hour)

	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundExpired, info.Status, "reads apply expiry lazily")

	err = l.Invest(bob, id, eth(1000))
	assert.True(t, eris.Is(err, ErrDeadlinePassed))
	assert.Len(t, mem.OfType(model.EventRoundExpired), 1)

	err = l.Invest(bob, id, eth(1000))
	assert.True(t, eris.Is(err, ErrRoundNotOpen), "expiry is kept after the first rejected deposit")

	refund, err := l.RefundExpired(alice, id)
	require.NoError(t, err)
	assert.Equal(t, eth(4000), refund)

	_, err = l.RefundExpired(alice, id)
	assert.True(t, eris.Is(err, ErrNothingToClaim))
	assert.Equal(t, 0, l.Balance().Sign())
	assert.Equal(t, 0, l.RecordedDeposits().Sign())
}

func TestRefundRequiresExpiredRound(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(10_000))
	require.NoError(t, l.Invest(alice, id, eth(1000)))

	_, err := l.RefundExpired(alice, id)
	assert.True(t, eris.Is(err, ErrRoundNotExpired))
}

func TestFundedRoundPastDeadlineRejectsDeposits(t *testing.T) {
	l, _, clk := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(1000))
	require.NoError(t, l.Invest(alice, id, eth(1000)))
	clk.Advance(31 * 24 * time.Hour)

	err := l.Invest(bob, id, eth(1000))
	assert.True(t, eris.Is(err, ErrDeadlinePassed))
	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundFunded, info.Status)
}

func TestCreateFundingRoundValidation(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	deadline := start.Add(time.Hour)

	cases := []struct {
		name string
		ids  []uint8
		bps  []uint16
	}{
		{"length mismatch", []uint8{0, 1}, []uint16{5000}},
		{"empty", nil, nil},
		{"zero bps", []uint8{0}, []uint16{0}},
		{"duplicate milestone", []uint8{1, 1}, []uint16{1000, 1000}},
		{"over 100 percent", []uint8{0, 1}, []uint16{6000, 4001}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.CreateFundingRound(admin, project, eth(1000), deadline, tc.ids, tc.bps)
			assert.True(t, eris.Is(err, ErrInvalidTrancheConfig))
		})
	}

	_, err := l.CreateFundingRound(admin, project, big.NewInt(0), deadline, []uint8{0}, []uint16{10_000})
	assert.True(t, eris.Is(err, ErrInvalidAmount))

	_, err = l.CreateFundingRound(alice, project, eth(1000), deadline, []uint8{0}, []uint16{10_000})
	assert.True(t, eris.Is(err, access.ErrUnauthorized))

	assert.Empty(t, l.Rounds())
}

func TestReleaseTrancheErrors(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(10_000))

	_, err := l.ReleaseTranche(alice, project, 0)
	assert.True(t, eris.Is(err, access.ErrUnauthorized))

	_, err = l.ReleaseTranche(milestone, project, 0)
	assert.True(t, eris.Is(err, ErrRoundNotFunded))

	_, err = l.ReleaseTranche(milestone, project, 9)
	assert.True(t, eris.Is(err, ErrNoMatchingTranche))

	_, err = l.ReleaseTranche(milestone, model.ProjectIDFromName("elsewhere"), 0)
	assert.True(t, eris.Is(err, ErrNoMatchingTranche))

	require.NoError(t, l.Invest(alice, id, eth(10_000)))
	_, err = l.ReleaseTranche(milestone, project, 0)
	require.NoError(t, err)
	_, err = l.ReleaseTranche(milestone, project, 0)
	assert.True(t, eris.Is(err, ErrTrancheAlreadyReleased))

	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, eth(2500), info.TotalReleased)
}

func TestReleasedAmountMatchesBasisPoints(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	target := big.NewInt(999_999_999_999)
	id, err := l.CreateFundingRound(admin, project, target, start.Add(time.Hour),
		[]uint8{0, 1, 2}, []uint16{3333, 3333, 3334})
	require.NoError(t, err)
	require.NoError(t, l.Invest(alice, id, target))

	for m := uint8(0); m < 3; m++ {
		_, err := l.ReleaseTranche(milestone, project, m)
		require.NoError(t, err)

		info, err := l.RoundInfo(id)
		require.NoError(t, err)
		want := new(big.Int).Mul(target, big.NewInt(info.ReleasedBasisPoints()))
		want.Quo(want, big.NewInt(model.MaxBasisPoints))
		assert.Equal(t, want, info.TotalReleased)
	}
}

func TestRescuePremiumSchedule(t *testing.T) {
	assert.Equal(t, uint16(4500), RescuePremiumBps(10))
	assert.Equal(t, uint16(4500), RescuePremiumBps(15))
	assert.Equal(t, uint16(3900), RescuePremiumBps(22))
	assert.Equal(t, uint16(5000), RescuePremiumBps(0))

	prev := RescuePremiumBps(0)
	for s := 0; s <= 100; s++ {
		bps := RescuePremiumBps(uint8(s))
		assert.LessOrEqual(t, bps, MaxRescuePremiumBps)
		assert.LessOrEqual(t, bps, prev, "score %d", s)
		prev = bps
	}
}

func TestRescueRoundPaysTargetPlusPremiumOnce(t *testing.T) {
	l, mem, _ := newTestLedger(t, Config{NativeUSDPrice: model.Dollars(3000)})
	require.NoError(t, l.SetGapProvider(admin, gapStub{gap: model.Dollars(30_000)}))

	id, err := l.InitiateRescueFunding(solvency, project, 15)
	require.NoError(t, err)

	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundRescue, info.Type)
	assert.Equal(t, eth(10_000), info.TargetAmount)
	assert.Equal(t, uint16(4500), info.RescuePremiumBps)
	assert.Equal(t, start.Add(DefaultRescueWindow), info.Deadline)
	require.Len(t, info.Tranches, 1)
	assert.Equal(t, model.Tranche{MilestoneID: 0, BasisPoints: 10_000}, info.Tranches[0])

	premium, err := l.RescuePremiumInfo(id)
	require.NoError(t, err)
	assert.Equal(t, eth(4500), premium.RequiredPremium)
	assert.False(t, premium.FullyFunded)

	require.NoError(t, l.DepositRescuePremium(admin, id, premium.RequiredPremium))
	require.NoError(t, l.Invest(alice, id, eth(10_000)))

	info, err = l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundFunded, info.Status)

	_, err = l.ReleaseTranche(milestone, project, RescueMilestone)
	require.NoError(t, err)

	paid, err := l.ClaimReleasedFunds(alice, id)
	require.NoError(t, err)
	assert.Equal(t, eth(10_000), paid.Principal)
	assert.Equal(t, eth(4500), paid.Premium)

	_, err = l.ClaimReleasedFunds(alice, id)
	assert.True(t, eris.Is(err, ErrNothingToClaim))

	premium, err = l.RescuePremiumInfo(id)
	require.NoError(t, err)
	assert.True(t, premium.FullyFunded)
	assert.Equal(t, eth(4500), premium.PremiumPaid)
	assert.Equal(t, 0, l.Balance().Sign())

	created := mem.OfType(model.EventRoundCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "4500", created[0].Attrs["premium_bps"])
}

func TestRescueTargetFallsBackToMinimum(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		gaps  GapProvider
		wants *big.Int
	}{
		{"no provider", Config{NativeUSDPrice: model.Dollars(3000)}, nil, DefaultMinRescueTarget()},
		{"no price", Config{}, gapStub{gap: model.Dollars(1)}, DefaultMinRescueTarget()},
		{"no gap", Config{NativeUSDPrice: model.Dollars(3000)}, gapStub{}, DefaultMinRescueTarget()},
		{"provider error", Config{NativeUSDPrice: model.Dollars(3000)}, gapStub{err: eris.New("down")}, DefaultMinRescueTarget()},
		{"custom minimum", Config{MinRescueTarget: eth(2000)}, nil, eth(2000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, _, _ := newTestLedger(t, tc.cfg)
			if tc.gaps != nil {
				require.NoError(t, l.SetGapProvider(admin, tc.gaps))
			}
			id, err := l.InitiateRescueFunding(solvency, project, 20)
			require.NoError(t, err)
			info, err := l.RoundInfo(id)
			require.NoError(t, err)
			assert.Equal(t, tc.wants, info.TargetAmount)
		})
	}
}

func TestRescueGuards(t *testing.T) {
	l, _, clk := newTestLedger(t, Config{})

	_, err := l.InitiateRescueFunding(alice, project, 10)
	assert.True(t, eris.Is(err, access.ErrUnauthorized))

	_, err = l.InitiateRescueFunding(solvency, project, 101)
	assert.True(t, eris.Is(err, ErrInvalidScore))

	id, err := l.InitiateRescueFunding(solvency, project, 10)
	require.NoError(t, err)
	_, err = l.InitiateRescueFunding(solvency, project, 5)
	assert.True(t, eris.Is(err, ErrRescueActive))

	clk.Advance(DefaultRescueWindow + time.Hour)
	next, err := l.InitiateRescueFunding(solvency, project, 5)
	require.NoError(t, err)
	assert.Equal(t, id+1, next)
}

func TestDepositRescuePremiumGuards(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	std := quarterRound(t, l, eth(1000))
	rescue, err := l.InitiateRescueFunding(solvency, project, 22)
	require.NoError(t, err)

	assert.True(t, eris.Is(l.DepositRescuePremium(alice, rescue, eth(1)), access.ErrUnauthorized))
	assert.True(t, eris.Is(l.DepositRescuePremium(admin, std, eth(1)), ErrNotRescueRound))
	assert.True(t, eris.Is(l.DepositRescuePremium(admin, rescue, big.NewInt(0)), ErrInvalidAmount))

	// 10 unit minimum target at 39%.
	require.NoError(t, l.DepositRescuePremium(admin, rescue, eth(3000)))
	err = l.DepositRescuePremium(admin, rescue, eth(1000))
	assert.True(t, eris.Is(err, ErrPremiumExceeded))
	require.NoError(t, l.DepositRescuePremium(admin, rescue, eth(900)))

	info, err := l.RescuePremiumInfo(rescue)
	require.NoError(t, err)
	assert.True(t, info.FullyFunded)

	_, err = l.RescuePremiumInfo(std)
	assert.True(t, eris.Is(err, ErrNotRescueRound))
}

func TestExpiredRescueRejectsPremium(t *testing.T) {
	l, mem, clk := newTestLedger(t, Config{})
	id, err := l.InitiateRescueFunding(solvency, project, 10)
	require.NoError(t, err)

	clk.Advance(DefaultRescueWindow + time.Hour)
	err = l.DepositRescuePremium(admin, id, eth(1000))
	assert.True(t, eris.Is(err, ErrDeadlinePassed))

	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundExpired, info.Status)
	assert.Len(t, mem.OfType(model.EventRoundExpired), 1)
	assert.Equal(t, 0, l.Balance().Sign())

	err = l.DepositRescuePremium(admin, id, eth(1000))
	assert.True(t, eris.Is(err, ErrRoundNotOpen))
}

func TestReturnExpiredPremium(t *testing.T) {
	l, mem, clk := newTestLedger(t, Config{})
	std := quarterRound(t, l, eth(1000))
	id, err := l.InitiateRescueFunding(solvency, project, 10)
	require.NoError(t, err)
	require.NoError(t, l.DepositRescuePremium(admin, id, eth(2000)))
	require.NoError(t, l.Invest(alice, id, eth(4000)))

	_, err = l.ReturnExpiredPremium(admin, id)
	assert.True(t, eris.Is(err, ErrRoundNotExpired))

	clk.Advance(DefaultRescueWindow + time.Hour)
	_, err = l.ReturnExpiredPremium(alice, id)
	assert.True(t, eris.Is(err, access.ErrUnauthorized))
	_, err = l.ReturnExpiredPremium(admin, std)
	assert.True(t, eris.Is(err, ErrNotRescueRound))

	returned, err := l.ReturnExpiredPremium(admin, id)
	require.NoError(t, err)
	assert.Equal(t, eth(2000), returned)
	assert.Len(t, mem.OfType(model.EventRescuePremiumReturned), 1)

	_, err = l.ReturnExpiredPremium(admin, id)
	assert.True(t, eris.Is(err, ErrNothingToClaim))

	refund, err := l.RefundExpired(alice, id)
	require.NoError(t, err)
	assert.Equal(t, eth(4000), refund)
	assert.Equal(t, 0, l.Balance().Sign())
	assert.Equal(t, 0, l.RecordedDeposits().Sign())
}

func TestConcurrentInvestsConserveShares(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(1_000_000))

	investors := []model.Principal{"i0", "i1", "i2", "i3", "i4", "i5", "i6", "i7"}
	var wg sync.WaitGroup
	for _, inv := range investors {
		for n := 0; n < 25; n++ {
			wg.Add(1)
			go func(p model.Principal) {
				defer wg.Done()
				assert.NoError(t, l.Invest(p, id, eth(1)))
			}(inv)
		}
	}
	wg.Wait()

	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	sum := new(big.Int)
	for _, pos := range l.Positions(id) {
		sum.Add(sum, pos.Shares)
	}
	assert.Equal(t, info.TotalDeposited, sum)
	assert.Equal(t, eth(int64(len(investors)*25)), sum)
	assert.Equal(t, len(investors), info.InvestorCount)
}

func TestStatePersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, _, _ := newTestLedger(t, Config{StateFile: path})
	id := quarterRound(t, l, eth(10_000))
	require.NoError(t, l.Invest(alice, id, eth(10_000)))
	_, err := l.ReleaseTranche(milestone, project, 0)
	require.NoError(t, err)

	reloaded, err := New(admin, Config{StateFile: path}, nil)
	require.NoError(t, err)
	reloaded.SetClock(func() time.Time { return start })

	info, err := reloaded.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoundReleasing, info.Status)
	assert.Equal(t, eth(2500), info.TotalReleased)
	assert.Equal(t, []uint64{id}, reloaded.ProjectRounds(project))
	assert.Equal(t, eth(10_000), reloaded.Balance())

	next, err := reloaded.CreateFundingRound(admin, project, eth(1000), start.Add(time.Hour), []uint8{9}, []uint16{10_000})
	require.NoError(t, err)
	assert.Equal(t, id+1, next)
}

func TestLoadFillsMissingPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, _, _ := newTestLedger(t, Config{StateFile: path})
	id := quarterRound(t, l, eth(10_000))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	delete(raw, "positions")
	data, err = json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	reloaded, err := New(admin, Config{StateFile: path}, nil)
	require.NoError(t, err)
	reloaded.SetClock(func() time.Time { return start })
	require.NotPanics(t, func() {
		assert.NoError(t, reloaded.Invest(alice, id, eth(1000)))
	})
	pos, ok := reloaded.Position(id, alice)
	require.True(t, ok)
	assert.Equal(t, eth(1000), pos.Shares)
}

func TestReadsReturnCopies(t *testing.T) {
	l, _, _ := newTestLedger(t, Config{})
	id := quarterRound(t, l, eth(10_000))
	require.NoError(t, l.Invest(alice, id, eth(1000)))

	info, err := l.RoundInfo(id)
	require.NoError(t, err)
	info.TotalDeposited.SetInt64(0)
	info.Tranches[0].Released = true

	again, err := l.RoundInfo(id)
	require.NoError(t, err)
	assert.Equal(t, eth(1000), again.TotalDeposited)
	assert.False(t, again.Tranches[0].Released)
}
