package solvency_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InfraSentinel/internal/access"
	"InfraSentinel/internal/events"
	"InfraSentinel/internal/ledger"
	"InfraSentinel/internal/model"
	"InfraSentinel/internal/solvency"
)

func TestCollapseOpensRescueRoundOnLedger(t *testing.T) {
	const admin model.Principal = "admin"
	const storeID model.Principal = "solvency-store"
	project := model.ProjectIDFromName("Northline Rail")
	bus := events.NewMemory()

	l, err := ledger.New(admin, ledger.Config{NativeUSDPrice: model.Dollars(2500)}, bus)
	require.NoError(t, err)
	s := solvency.NewStore(admin, solvency.Config{Principal: storeID}, bus)

	require.NoError(t, l.GrantRole(admin, access.RoleSolvencyOracle, storeID))
	require.NoError(t, l.SetGapProvider(admin, s))
	require.NoError(t, s.SetRescueHook(admin, l))
	require.NoError(t, s.RegisterProject(admin, project, model.ProjectFinancials{
		TotalBudget:      model.Dollars(50_000_000),
		CapitalDeployed:  model.Dollars(30_000_000),
		CapitalRemaining: model.Dollars(19_950_000),
	}))

	res, err := s.IngestReport(admin, model.SolvencyReport{
		ProjectID:       project,
		OverallScore:    15,
		RiskLevel:       model.RiskCritical,
		RescueTriggered: true,
		Timestamp:       1_700_000_000,
	})
	require.NoError(t, err)
	require.NoError(t, res.RescueErr)

	round, err := l.RoundInfo(res.RescueRoundID)
	require.NoError(t, err)
	assert.Equal(t, model.RoundRescue, round.Type)
	assert.Equal(t, uint16(4500), round.RescuePremiumBps)

	// $50,000 gap at $2,500 per unit.
	want := new(big.Int).Mul(big.NewInt(20), ledger.WeiPerUnit)
	assert.Equal(t, want, round.TargetAmount)

	// A second collapse while the first rescue is open is contained.
	res, err = s.IngestReport(admin, model.SolvencyReport{
		ProjectID:    project,
		OverallScore: 5,
		RiskLevel:    model.RiskCritical,
		Timestamp:    1_700_000_100,
	})
	require.NoError(t, err)
	assert.Error(t, res.RescueErr)
	assert.Equal(t, 2, s.HistoryCount(project))

	var failed int
	for _, evt := range bus.OfType(model.EventRiskAlertTriggered) {
		if evt.Severity == model.AlertRescueCallFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}
