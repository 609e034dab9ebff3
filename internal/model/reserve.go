package model

import (
	"math/big"
	"time"
)

// ReserveStatus is the outcome of a reserve verification.
type ReserveStatus uint8

const (
	ReserveUnverified ReserveStatus = iota
	ReserveVerified
	ReserveUnderReserved
	ReserveStaleData
	ReserveFeedUnavailable
)

func (s ReserveStatus) String() string {
	switch s {
	case ReserveUnverified:
		return "UNVERIFIED"
	case ReserveVerified:
		return "VERIFIED"
	case ReserveUnderReserved:
		return "UNDER_RESERVED"
	case ReserveStaleData:
		return "STALE_DATA"
	case ReserveFeedUnavailable:
		return "FEED_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// ReserveAttestation is an externally attested reserve figure.
type ReserveAttestation struct {
	ProjectID ProjectID `json:"project_id"`
	Reserves  USD       `json:"reserves"`
	AsOf      time.Time `json:"as_of"`
}

// ReserveRecord is the latest verification of a project's claimed reserves.
type ReserveRecord struct {
	ProjectID        ProjectID     `json:"project_id"`
	ClaimedReserves  USD           `json:"claimed_reserves"`
	ReportedReserves USD           `json:"reported_reserves"`
	RatioBps         int64         `json:"ratio_bps"`
	Status           ReserveStatus `json:"status"`
	Timestamp        time.Time     `json:"timestamp"`
}

// EngineReserveRecord is the latest self-consistency check of the ledger balance.
type EngineReserveRecord struct {
	ContractBalance  *big.Int      `json:"contract_balance"`
	ReportedDeposits *big.Int      `json:"reported_deposits"`
	RatioBps         int64         `json:"ratio_bps"`
	Status           ReserveStatus `json:"status"`
	Timestamp        time.Time     `json:"timestamp"`
}
