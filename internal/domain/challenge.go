package domain

import "time"

// ChallengeStatus es el estado persistido de un challenge.
// enrolling/competing/judging se derivan del reloj; completed y cancelled
// solo se alcanzan con una operación explícita.
type ChallengeStatus string

const (
	StatusEnrolling ChallengeStatus = "enrolling"
	StatusCompeting ChallengeStatus = "competing"
	StatusJudging   ChallengeStatus = "judging"
	StatusCompleted ChallengeStatus = "completed"
	StatusCancelled ChallengeStatus = "cancelled"
)

// IsTerminal devuelve true para completed y cancelled.
func (s ChallengeStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Challenge es una competición con sus pools y deadlines.
type Challenge struct {
	ID             string
	CreatorWallet  string
	Title          string
	Description    string
	EntryFee       Amount
	EnrollEnd      time.Time
	CompeteEnd     time.Time
	JudgeEnd       time.Time
	Status         ChallengeStatus
	TotalEntryPool Amount // acumulador; solo baja con un withdraw
	TotalBetPool   Amount // incluye apuestas sin verificar
	WinnerAgentID  string // se fija una sola vez en Finalize
	CreatedAt      time.Time
	FinalizedAt    *time.Time
}

// ValidateDeadlines exige now < enrollEnd < competeEnd < judgeEnd.
func (c Challenge) ValidateDeadlines(now time.Time) error {
	if !now.Before(c.EnrollEnd) ||
		!c.EnrollEnd.Before(c.CompeteEnd) ||
		!c.CompeteEnd.Before(c.JudgeEnd) {
		return ErrInvalidDeadlines
	}
	return nil
}

// Phase es la fase efectiva de un challenge en un instante dado.
type Phase string

const (
	PhaseEnrolling Phase = "enrolling"
	PhaseCompeting Phase = "competing"
	PhaseJudging   Phase = "judging"
	// PhaseSettling: judgeEnd ya pasó pero nadie llamó a Finalize.
	PhaseSettling  Phase = "settling"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
	// PhaseBoundary: el instante coincide exactamente con un deadline.
	// Ninguna operación es válida en él.
	PhaseBoundary Phase = "boundary"
)

// CurrentPhase deriva la fase de los deadlines guardados y now.
// Comparaciones estrictas: en el milisegundo exacto de un deadline no hay fase.
func CurrentPhase(c Challenge, now time.Time) Phase {
	switch c.Status {
	case StatusCompleted:
		return PhaseCompleted
	case StatusCancelled:
		return PhaseCancelled
	}

	switch {
	case now.Before(c.EnrollEnd):
		return PhaseEnrolling
	case now.After(c.EnrollEnd) && now.Before(c.CompeteEnd):
		return PhaseCompeting
	case now.After(c.CompeteEnd) && now.Before(c.JudgeEnd):
		return PhaseJudging
	case now.After(c.JudgeEnd):
		return PhaseSettling
	default:
		return PhaseBoundary
	}
}

// statusRank ordena los estados guardados para detectar desacuerdos con el reloj.
func statusRank(s ChallengeStatus) int {
	switch s {
	case StatusEnrolling:
		return 0
	case StatusCompeting:
		return 1
	case StatusJudging:
		return 2
	default:
		return 3
	}
}

func phaseRank(p Phase) int {
	switch p {
	case PhaseEnrolling:
		return 0
	case PhaseCompeting:
		return 1
	case PhaseJudging:
		return 2
	case PhaseSettling:
		return 3
	default:
		return -1
	}
}

// ClockStatus es el estado que el reloj impone a un challenge no terminal.
// Devuelve ok=false en un boundary o si el challenge ya es terminal.
func ClockStatus(p Phase) (ChallengeStatus, bool) {
	switch p {
	case PhaseEnrolling:
		return StatusEnrolling, true
	case PhaseCompeting:
		return StatusCompeting, true
	case PhaseJudging, PhaseSettling:
		return StatusJudging, true
	}
	return "", false
}

// ResolvePhase es CurrentPhase más la comprobación de consistencia:
// un status guardado por delante del reloj es un PhaseViolation.
// Un status por detrás es normal (nadie ha escrito desde que pasó el deadline).
func ResolvePhase(c Challenge, now time.Time) (Phase, error) {
	p := CurrentPhase(c, now)
	if c.Status.IsTerminal() || p == PhaseBoundary {
		return p, nil
	}
	if statusRank(c.Status) > phaseRank(p) {
		return p, ErrPhaseViolation
	}
	return p, nil
}

// Action es una operación mutante sujeta al control de fase.
type Action string

const (
	ActionEnroll   Action = "enroll"
	ActionReveal   Action = "reveal"
	ActionSubmit   Action = "submit"
	ActionWithdraw Action = "withdraw"
	ActionBet      Action = "bet"
	ActionVote     Action = "vote"
	ActionFinalize Action = "finalize"
	ActionCancel   Action = "cancel"
	ActionClaim    Action = "claim"
)

// allowedPhases: fase(s) en que cada acción es válida.
var allowedPhases = map[Action]map[Phase]bool{
	ActionEnroll:   {PhaseEnrolling: true},
	ActionReveal:   {PhaseCompeting: true},
	ActionSubmit:   {PhaseCompeting: true},
	ActionWithdraw: {PhaseCompeting: true},
	ActionBet:      {PhaseCompeting: true},
	ActionVote:     {PhaseJudging: true},
	ActionFinalize: {PhaseSettling: true},
	ActionCancel:   {PhaseEnrolling: true, PhaseCompeting: true, PhaseJudging: true, PhaseSettling: true},
	ActionClaim:    {PhaseCompleted: true, PhaseCancelled: true},
}

// Allows devuelve true si la acción es válida en la fase.
func (p Phase) Allows(a Action) bool {
	return allowedPhases[a][p]
}

// RequirePhase resuelve la fase y exige que permita la acción.
func RequirePhase(c Challenge, now time.Time, a Action) (Phase, error) {
	p, err := ResolvePhase(c, now)
	if err != nil {
		return p, err
	}
	if !p.Allows(a) {
		switch {
		case a == ActionEnroll:
			return p, ErrChallengeNotEnrolling
		case a == ActionFinalize && p == PhaseCompleted:
			return p, ErrAlreadyFinalized
		case a == ActionClaim:
			return p, ErrNotSettled
		}
		return p, ErrPhaseViolation
	}
	return p, nil
}
