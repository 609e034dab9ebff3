package model

// MilestoneReport is one construction-progress observation.
type MilestoneReport struct {
	ProjectID         ProjectID `json:"project_id"`
	MilestoneID       uint8     `json:"milestone_id"`
	Progress          uint8     `json:"progress"`
	VerificationScore uint8     `json:"verification_score"`
	Approved          bool      `json:"approved"`
	Timestamp         uint64    `json:"timestamp"`
}

// Completed reports whether the milestone unlocks its gated tranche.
func (r MilestoneReport) Completed() bool {
	return r.Progress == 100 && r.Approved
}
