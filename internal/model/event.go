package model

import "time"

// EventType names an observable state change.
type EventType string

// Solvency side.
const (
	EventSolvencyUpdated           EventType = "SolvencyUpdated"
	EventRiskAlertTriggered        EventType = "RiskAlertTriggered"
	EventRescueFundingInitiated    EventType = "RescueFundingInitiated"
	EventProjectRegistered         EventType = "ProjectRegistered"
	EventProjectFinancialsUpdated  EventType = "ProjectFinancialsUpdated"
	EventAuthorizedWorkflowUpdated EventType = "AuthorizedWorkflowUpdated"
)

// Milestone side.
const (
	EventMilestonesRegistered EventType = "MilestonesRegistered"
	EventMilestoneUpdated     EventType = "MilestoneUpdated"
	EventTrancheReleaseFailed EventType = "TrancheReleaseFailed"
)

// Ledger side.
const (
	EventRoundCreated           EventType = "RoundCreated"
	EventInvested               EventType = "Invested"
	EventRoundFunded            EventType = "RoundFunded"
	EventRoundExpired           EventType = "RoundExpired"
	EventTrancheReleased        EventType = "TrancheReleased"
	EventRoundCompleted         EventType = "RoundCompleted"
	EventFundsClaimed           EventType = "FundsClaimed"
	EventRescuePremiumDeposited EventType = "RescuePremiumDeposited"
	EventRescuePremiumReturned  EventType = "RescuePremiumReturned"
	EventExpiredRefund          EventType = "ExpiredRefund"
	EventRoleGranted            EventType = "RoleGranted"
	EventRoleRevoked            EventType = "RoleRevoked"
)

// Reserve side.
const (
	EventReserveVerified EventType = "ReserveVerified"
)

// Alert tags carried in Event.Severity for RiskAlertTriggered.
const (
	AlertCritical         = "CRITICAL"
	AlertHigh             = "HIGH"
	AlertRescueCallFailed = "RESCUE_CALL_FAILED"
	SeverityInfo          = "INFO"
	SeverityWarn          = "WARN"
)

// Event is emitted by every component for the dashboard, recorder and notifier.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	ProjectID ProjectID         `json:"project_id"`
	RoundID   uint64            `json:"round_id,omitempty"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	At        time.Time         `json:"at"`
}
