package collector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"InfraSentinel/internal/codec"
	"InfraSentinel/internal/model"
)

// HTTPFetcher implements Fetcher against the report feed REST API. Reports
// travel as hex-encoded codec payloads, exactly as the workflows sign them.
type HTTPFetcher struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher limited to ratePerSec requests with optional proxy support.
func NewHTTPFetcher(baseURL, apiKey, proxyURL string, ratePerSec float64, burst int) *HTTPFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &HTTPFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (f *HTTPFetcher) Name() string { return "feed" }

type payloadResponse struct {
	Payload string `json:"payload"`
}

type milestonesResponse struct {
	Reports []string `json:"reports"`
}

type reservesResponse struct {
	Reserves string `json:"reserves"`
	AsOf     int64  `json:"as_of"`
}

func (f *HTTPFetcher) FetchSolvencyReport(ctx context.Context, projectID model.ProjectID) (model.SolvencyReport, error) {
	var resp payloadResponse
	if err := f.get(ctx, f.endpoint(projectID, "solvency"), &resp); err != nil {
		return model.SolvencyReport{}, eris.Wrap(err, "fetch solvency report")
	}
	raw, err := codec.FromHex(resp.Payload)
	if err != nil {
		return model.SolvencyReport{}, err
	}
	r, err := codec.DecodeSolvencyReport(raw)
	if err != nil {
		return model.SolvencyReport{}, err
	}
	if r.ProjectID != projectID {
		return model.SolvencyReport{}, eris.Errorf("feed returned report for %s, asked for %s", r.ProjectID.Short(), projectID.Short())
	}
	return r, nil
}

// FetchMilestoneReports returns the feed's pending milestone reports ordered
// by timestamp, so later reports for the same milestone win on ingestion.
func (f *HTTPFetcher) FetchMilestoneReports(ctx context.Context, projectID model.ProjectID) ([]model.MilestoneReport, error) {
	var resp milestonesResponse
	if err := f.get(ctx, f.endpoint(projectID, "milestones"), &resp); err != nil {
		return nil, eris.Wrap(err, "fetch milestone reports")
	}
	reports := make([]model.MilestoneReport, 0, len(resp.Reports))
	for i, h := range resp.Reports {
		raw, err := codec.FromHex(h)
		if err != nil {
			return nil, eris.Wrapf(err, "milestone report %d", i)
		}
		r, err := codec.DecodeMilestoneReport(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "milestone report %d", i)
		}
		if r.ProjectID != projectID {
			continue
		}
		reports = append(reports, r)
	}
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].Timestamp < reports[j].Timestamp })
	return reports, nil
}

func (f *HTTPFetcher) FetchReserveAttestation(ctx context.Context, projectID model.ProjectID) (model.ReserveAttestation, error) {
	var resp reservesResponse
	if err := f.get(ctx, f.endpoint(projectID, "reserves"), &resp); err != nil {
		return model.ReserveAttestation{}, eris.Wrap(err, "fetch reserve attestation")
	}
	d, err := decimal.NewFromString(resp.Reserves)
	if err != nil {
		return model.ReserveAttestation{}, eris.Wrapf(err, "decode reserves %q", resp.Reserves)
	}
	if d.IsNegative() {
		return model.ReserveAttestation{}, eris.Errorf("negative reserves %q", resp.Reserves)
	}
	att := model.ReserveAttestation{
		ProjectID: projectID,
		Reserves:  model.USD(d.Shift(6).Round(0).IntPart()),
	}
	if resp.AsOf > 0 {
		att.AsOf = time.Unix(resp.AsOf, 0).UTC()
	}
	return att, nil
}

func (f *HTTPFetcher) endpoint(projectID model.ProjectID, kind string) string {
	return f.BaseURL + "/api/v1/projects/" + projectID.String() + "/" + kind
}

func (f *HTTPFetcher) get(ctx context.Context, endpoint string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limit")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return eris.Wrap(err, "request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
