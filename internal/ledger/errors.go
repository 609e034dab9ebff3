package ledger

import "github.com/rotisserie/eris"

// Validation errors.
var (
	ErrInvalidTrancheConfig = eris.New("invalid tranche configuration")
	ErrInvalidAmount        = eris.New("invalid amount")
	ErrInvalidScore         = eris.New("invalid solvency score")
)

// State-conflict errors.
var (
	ErrRoundNotFound          = eris.New("round not found")
	ErrRoundNotOpen           = eris.New("round not open")
	ErrDeadlinePassed         = eris.New("deadline passed")
	ErrTrancheAlreadyReleased = eris.New("tranche already released")
	ErrNoMatchingTranche      = eris.New("no matching tranche")
	ErrRoundNotFunded         = eris.New("round not funded")
	ErrNothingToClaim         = eris.New("nothing to claim")
	ErrNotRescueRound         = eris.New("not a rescue round")
	ErrPremiumExceeded        = eris.New("premium deposit exceeds required premium")
	ErrRescueActive           = eris.New("rescue round already open for project")
	ErrRoundNotExpired        = eris.New("round not expired")
)
