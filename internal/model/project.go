package model

import (
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// ProjectID is the 32-byte identifier reported by the oracle feeds.
type ProjectID [32]byte

// ProjectIDFromName hashes a human-readable project name with keccak256,
// matching how the feeds derive ids from names.
func ProjectIDFromName(name string) ProjectID {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	var id ProjectID
	copy(id[:], h.Sum(nil))
	return id
}

// ParseProjectID parses a 0x-prefixed (or bare) 64 character hex string.
func ParseProjectID(s string) (ProjectID, error) {
	var id ProjectID
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return id, eris.Wrap(err, "parse project id")
	}
	if len(raw) != len(id) {
		return id, eris.Errorf("parse project id: want %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id ProjectID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Short returns the first four bytes, for log lines and chat messages.
func (id ProjectID) Short() string {
	return "0x" + hex.EncodeToString(id[:4])
}

func (id ProjectID) IsZero() bool {
	return id == ProjectID{}
}

// MarshalText lets ProjectID be used as a JSON map key.
func (id ProjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ProjectID) UnmarshalText(b []byte) error {
	parsed, err := ParseProjectID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// USD is a fixed-point dollar amount with 6 implied decimals.
type USD int64

// USDPerDollar is the scale of USD.
const USDPerDollar USD = 1_000_000

// String renders the amount in dollars without trailing zeros.
func (u USD) String() string {
	return decimal.New(int64(u), -6).String()
}

// Dollars builds a USD value from whole dollars.
func Dollars(n int64) USD { return USD(n) * USDPerDollar }

// ProjectFinancials is the administrator-maintained financial profile of a project.
type ProjectFinancials struct {
	TotalBudget      USD  `json:"total_budget"`
	CapitalDeployed  USD  `json:"capital_deployed"`
	CapitalRemaining USD  `json:"capital_remaining"`
	FundingVelocity  USD  `json:"funding_velocity"` // inflow per month
	BurnRate         USD  `json:"burn_rate"`        // outflow per month
	IsActive         bool `json:"is_active"`
}

// FundingGap is the part of the budget that is neither spent nor on hand.
func (f ProjectFinancials) FundingGap() USD {
	return f.TotalBudget - f.CapitalDeployed - f.CapitalRemaining
}

// FinancialDeltas are signed adjustments applied to ProjectFinancials.
type FinancialDeltas struct {
	TotalBudget      USD `json:"total_budget"`
	CapitalDeployed  USD `json:"capital_deployed"`
	CapitalRemaining USD `json:"capital_remaining"`
	FundingVelocity  USD `json:"funding_velocity"`
	BurnRate         USD `json:"burn_rate"`
}

// Apply returns f with the deltas added. ok is false if any field would go negative.
func (d FinancialDeltas) Apply(f ProjectFinancials) (out ProjectFinancials, ok bool) {
	out = f
	out.TotalBudget += d.TotalBudget
	out.CapitalDeployed += d.CapitalDeployed
	out.CapitalRemaining += d.CapitalRemaining
	out.FundingVelocity += d.FundingVelocity
	out.BurnRate += d.BurnRate
	ok = out.TotalBudget >= 0 && out.CapitalDeployed >= 0 && out.CapitalRemaining >= 0 &&
		out.FundingVelocity >= 0 && out.BurnRate >= 0
	return out, ok
}
