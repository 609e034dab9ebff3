package notifier

import (
	"fmt"
	"html"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"InfraSentinel/internal/model"
)

// FormatWei renders an 18-decimal amount in ETH, trimmed to 4 places.
func FormatWei(v *big.Int) string {
	if v == nil {
		return "0 ETH"
	}
	return decimal.NewFromBigInt(v, -18).Truncate(4).String() + " ETH"
}

// FormatUSD renders a micro-dollar amount with cents and thousands separators.
func FormatUSD(v model.USD) string {
	s := decimal.New(int64(v), -6).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := "$" + b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}

func formatBps(bps int64) string {
	return decimal.New(bps, -2).String() + "%"
}

func riskIcon(level model.RiskLevel) string {
	switch level {
	case model.RiskLow:
		return "🟢"
	case model.RiskMedium:
		return "🟡"
	case model.RiskHigh:
		return "🟠"
	default:
		return "🔴"
	}
}

// FormatSolvency formats the latest solvency report of a project.
func FormatSolvency(name string, r model.SolvencyReport, gap model.USD) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>%s</b> solvency %d/100 (%s)\n\n",
		riskIcon(r.RiskLevel), html.EscapeString(name), r.OverallScore, r.RiskLevel))
	b.WriteString(fmt.Sprintf("Financial health: %d\n", r.FinancialHealth))
	b.WriteString(fmt.Sprintf("Cost exposure: %d\n", r.CostExposure))
	b.WriteString(fmt.Sprintf("Funding momentum: %d\n", r.FundingMomentum))
	b.WriteString(fmt.Sprintf("Runway adequacy: %d\n", r.RunwayAdequacy))
	b.WriteString(fmt.Sprintf("Funding gap: %s\n", FormatUSD(gap)))
	if r.RescueTriggered {
		b.WriteString("⚠️ Rescue triggered\n")
	}
	return b.String()
}

// FormatRound formats a funding round and its tranches.
func FormatRound(r model.FundingRound) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("💰 <b>Round #%d</b> %s | %s\n\n", r.RoundID, r.Type, r.Status))
	b.WriteString(fmt.Sprintf("Project: %s\n", r.ProjectID.Short()))
	b.WriteString(fmt.Sprintf("Target: %s\n", FormatWei(r.TargetAmount)))
	b.WriteString(fmt.Sprintf("Deposited: %s (%d investors)\n", FormatWei(r.TotalDeposited), r.InvestorCount))
	b.WriteString(fmt.Sprintf("Released: %s\n", FormatWei(r.TotalReleased)))
	b.WriteString(fmt.Sprintf("Deadline: %s\n", r.Deadline.UTC().Format("2006-01-02 15:04")))
	if r.Type == model.RoundRescue {
		b.WriteString(fmt.Sprintf("Premium: %s, pool %s\n", formatBps(int64(r.RescuePremiumBps)), FormatWei(r.PremiumPoolBalance)))
	}
	b.WriteString("\n<b>Tranches:</b>\n")
	for _, t := range r.Tranches {
		mark := "⏳"
		if t.Released {
			mark = "✅"
		}
		b.WriteString(fmt.Sprintf("  %s milestone %d: %s\n", mark, t.MilestoneID, formatBps(int64(t.BasisPoints))))
	}
	return b.String()
}

// FormatReserves formats per-project reserve records and the engine self-check.
func FormatReserves(names map[model.ProjectID]string, records []model.ReserveRecord, engine *model.EngineReserveRecord) string {
	var b strings.Builder
	b.WriteString("🏦 <b>Reserve verification</b>\n\n")
	if len(records) == 0 {
		b.WriteString("No project reserves verified yet\n")
	}
	for _, r := range records {
		name := names[r.ProjectID]
		if name == "" {
			name = r.ProjectID.Short()
		}
		b.WriteString(fmt.Sprintf("%s %s: %s of %s (%s)\n",
			reserveIcon(r.Status), html.EscapeString(name),
			FormatUSD(r.ReportedReserves), FormatUSD(r.ClaimedReserves), r.Status))
	}
	if engine != nil {
		b.WriteString(fmt.Sprintf("\n%s Ledger: balance %s vs recorded %s (%s)\n",
			reserveIcon(engine.Status), FormatWei(engine.ContractBalance),
			FormatWei(engine.ReportedDeposits), engine.Status))
	}
	return b.String()
}

func reserveIcon(s model.ReserveStatus) string {
	if s == model.ReserveVerified {
		return "✅"
	}
	return "❗"
}

// FormatEvent renders a bus event as an alert message.
func FormatEvent(evt model.Event) string {
	icon := "ℹ️"
	switch evt.Severity {
	case model.AlertCritical, model.AlertRescueCallFailed:
		icon = "🚨"
	case model.AlertHigh, model.SeverityWarn:
		icon = "⚠️"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>%s</b>", icon, evt.Type))
	if evt.Severity != "" && evt.Severity != model.SeverityInfo {
		b.WriteString(" [" + evt.Severity + "]")
	}
	b.WriteString("\n")
	if evt.Message != "" {
		b.WriteString(html.EscapeString(evt.Message) + "\n")
	}
	if !evt.ProjectID.IsZero() {
		b.WriteString("Project: " + evt.ProjectID.Short() + "\n")
	}
	if evt.RoundID != 0 {
		b.WriteString(fmt.Sprintf("Round: #%d\n", evt.RoundID))
	}
	keys := make([]string, 0, len(evt.Attrs))
	for k := range evt.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s: %s\n", k, html.EscapeString(evt.Attrs[k])))
	}
	return b.String()
}
