package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InfraSentinel/internal/codec"
	"InfraSentinel/internal/model"
)

var harbor = model.ProjectIDFromName("Harbor Bridge")

func feedServer(t *testing.T, routes map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		kind := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		body, ok := routes[kind]
		if !ok {
			http.Error(w, "no such feed", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcherSolvency(t *testing.T) {
	want := model.SolvencyReport{
		ProjectID:       harbor,
		OverallScore:    42,
		RiskLevel:       model.RiskHigh,
		FinancialHealth: 40,
		CostExposure:    50,
		FundingMomentum: 30,
		RunwayAdequacy:  45,
		Timestamp:       1_735_689_600,
	}
	srv := feedServer(t, map[string]any{
		"solvency": map[string]string{"payload": codec.ToHex(codec.EncodeSolvencyReport(want))},
	})

	f := NewHTTPFetcher(srv.URL, "secret", "", 0, 1)
	got, err := f.FetchSolvencyReport(context.Background(), harbor)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = f.FetchSolvencyReport(context.Background(), model.ProjectIDFromName("Elsewhere"))
	assert.Error(t, err, "report for another project is rejected")
}

func TestHTTPFetcherMilestonesSortedByTimestamp(t *testing.T) {
	late := model.MilestoneReport{ProjectID: harbor, MilestoneID: 1, Progress: 100, Approved: true, Timestamp: 20}
	early := model.MilestoneReport{ProjectID: harbor, MilestoneID: 1, Progress: 60, Timestamp: 10}
	other := model.MilestoneReport{ProjectID: model.ProjectIDFromName("Elsewhere"), MilestoneID: 0, Timestamp: 5}
	srv := feedServer(t, map[string]any{
		"milestones": map[string][]string{"reports": {
			codec.ToHex(codec.EncodeMilestoneReport(late)),
			codec.ToHex(codec.EncodeMilestoneReport(other)),
			codec.ToHex(codec.EncodeMilestoneReport(early)),
		}},
	})

	got, err := NewHTTPFetcher(srv.URL, "secret", "", 0, 1).FetchMilestoneReports(context.Background(), harbor)
	require.NoError(t, err)
	assert.Equal(t, []model.MilestoneReport{early, late}, got)
}

func TestHTTPFetcherReserves(t *testing.T) {
	srv := feedServer(t, map[string]any{
		"reserves": map[string]any{"reserves": "1250000.5", "as_of": 1_735_689_600},
	})
	att, err := NewHTTPFetcher(srv.URL, "secret", "", 0, 1).FetchReserveAttestation(context.Background(), harbor)
	require.NoError(t, err)
	assert.Equal(t, model.Dollars(1_250_000)+500_000, att.Reserves)
	assert.Equal(t, time.Unix(1_735_689_600, 0).UTC(), att.AsOf)
}

func TestHTTPFetcherErrors(t *testing.T) {
	srv := feedServer(t, map[string]any{
		"reserves": map[string]any{"reserves": "-1"},
		"solvency": map[string]string{"payload": "0x1234"},
	})
	ctx := context.Background()

	_, err := NewHTTPFetcher(srv.URL, "wrong", "", 0, 1).FetchReserveAttestation(ctx, harbor)
	assert.ErrorContains(t, err, "status 401")

	f := NewHTTPFetcher(srv.URL, "secret", "", 0, 1)
	_, err = f.FetchReserveAttestation(ctx, harbor)
	assert.ErrorContains(t, err, "negative reserves")

	_, err = f.FetchSolvencyReport(ctx, harbor)
	assert.True(t, eris.Is(err, codec.ErrMalformedPayload))

	_, err = f.FetchMilestoneReports(ctx, harbor)
	assert.ErrorContains(t, err, "status 404")
}

func TestHTTPFetcherHonoursContext(t *testing.T) {
	srv := feedServer(t, map[string]any{})
	f := NewHTTPFetcher(srv.URL, "secret", "", 0.001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FetchSolvencyReport(ctx, harbor)
	assert.Error(t, err)
}

func TestCollectorFallsBackToLocalScoring(t *testing.T) {
	mock := NewMockFetcher()
	mock.Err = eris.New("feed down")
	c := New(mock, true, 25)
	c.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	assert.Equal(t, "mock", c.Source())

	fin := model.ProjectFinancials{
		TotalBudget:      model.Dollars(50_000_000),
		CapitalDeployed:  model.Dollars(20_000_000),
		CapitalRemaining: model.Dollars(28_000_000),
		FundingVelocity:  model.Dollars(1_500_000),
		BurnRate:         model.Dollars(1_000_000),
		IsActive:         true,
	}
	r := c.Solvency(context.Background(), harbor, fin)
	assert.Equal(t, harbor, r.ProjectID)
	assert.Equal(t, uint8(95), r.OverallScore)
	assert.Equal(t, uint64(1_700_000_000), r.Timestamp)

	mock.Err = nil
	remote := model.SolvencyReport{ProjectID: harbor, OverallScore: 10, RiskLevel: model.RiskCritical, RescueTriggered: true}
	mock.SetSolvency(remote)
	assert.Equal(t, remote, c.Solvency(context.Background(), harbor, fin))

	local := New(mock, false, 25)
	assert.Equal(t, "local", local.Source())
	assert.Equal(t, uint8(95), local.Solvency(context.Background(), harbor, fin).OverallScore)
}

func TestCollectorWithoutFeed(t *testing.T) {
	c := New(nil, true, 25)
	assert.Equal(t, "local", c.Source())

	reports, err := c.Milestones(context.Background(), harbor)
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = c.FetchReserveAttestation(context.Background(), harbor)
	assert.Error(t, err)
}

func TestMockFetcherDrainsMilestones(t *testing.T) {
	mock := NewMockFetcher()
	mock.QueueMilestone(model.MilestoneReport{ProjectID: harbor, MilestoneID: 0, Progress: 100, Approved: true})
	c := New(mock, false, 25)

	first, err := c.Milestones(context.Background(), harbor)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := c.Milestones(context.Background(), harbor)
	require.NoError(t, err)
	assert.Empty(t, second)
}
