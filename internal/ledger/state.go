package ledger

import (
	"encoding/json"
	"math/big"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"InfraSentinel/internal/model"
)

// state is everything the ledger owns. It is persisted as JSON after each
// mutation when a state file is configured.
type state struct {
	NextRoundID   uint64                                                 `json:"next_round_id"`
	Rounds        map[uint64]*model.FundingRound                         `json:"rounds"`
	ProjectRounds map[model.ProjectID][]uint64                           `json:"project_rounds"`
	Positions     map[uint64]map[model.Principal]*model.InvestorPosition `json:"positions"`
	Balance       *big.Int                                               `json:"balance"`
	UpdatedAt     time.Time                                              `json:"updated_at"`
}

func newState() *state {
	return &state{
		NextRoundID:   1,
		Rounds:        make(map[uint64]*model.FundingRound),
		ProjectRounds: make(map[model.ProjectID][]uint64),
		Positions:     make(map[uint64]map[model.Principal]*model.InvestorPosition),
		Balance:       new(big.Int),
	}
}

// loadState reads ledger state from a JSON file. Returns an empty state if the file doesn't exist.
func loadState(filePath string) (*state, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, eris.Wrap(err, "read ledger state")
	}
	st := newState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, eris.Wrap(err, "decode ledger state")
	}
	st.normalize()
	return st, nil
}

// saveState writes the ledger state to a JSON file.
func saveState(filePath string, st *state) error {
	st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode ledger state")
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return eris.Wrap(err, "write ledger state")
	}
	return nil
}

// normalize fills nil maps and amounts left by an older or hand-edited file.
func (st *state) normalize() {
	if st.NextRoundID == 0 {
		st.NextRoundID = 1
	}
	if st.Rounds == nil {
		st.Rounds = make(map[uint64]*model.FundingRound)
	}
	if st.ProjectRounds == nil {
		st.ProjectRounds = make(map[model.ProjectID][]uint64)
	}
	if st.Positions == nil {
		st.Positions = make(map[uint64]map[model.Principal]*model.InvestorPosition)
	}
	if st.Balance == nil {
		st.Balance = new(big.Int)
	}
	for id, r := range st.Rounds {
		if st.Positions[id] == nil {
			st.Positions[id] = make(map[model.Principal]*model.InvestorPosition)
		}
		r.TargetAmount = orZero(r.TargetAmount)
		r.TotalDeposited = orZero(r.TotalDeposited)
		r.TotalReleased = orZero(r.TotalReleased)
		if r.Type == model.RoundRescue {
			r.PremiumPoolBalance = orZero(r.PremiumPoolBalance)
			r.PremiumPaid = orZero(r.PremiumPaid)
		}
	}
	for _, byInvestor := range st.Positions {
		for _, p := range byInvestor {
			p.Shares = orZero(p.Shares)
			p.Claimed = orZero(p.Claimed)
			p.PremiumClaimed = orZero(p.PremiumClaimed)
		}
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
