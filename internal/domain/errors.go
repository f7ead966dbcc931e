package domain

import (
	"errors"
	"fmt"
)

// Kind clasifica un error de negocio. El caller decide con él si reintentar:
// solo KindStore es transitorio.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPhase
	KindNotFound
	KindConflict
	KindAuthorization
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPhase:
		return "phase_violation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindStore:
		return "store"
	default:
		return "internal"
	}
}

// Retryable devuelve true solo para fallos del store.
func (k Kind) Retryable() bool {
	return k == KindStore
}

// Error es el error tipado del motor. Code es estable y legible por máquinas.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ---- Validación ----

var (
	ErrInvalidDeadlines = &Error{Kind: KindValidation, Code: "INVALID_DEADLINES", Message: "deadlines must satisfy now < enrollEnd < competeEnd < judgeEnd"}
	ErrFeeTooLow        = &Error{Kind: KindValidation, Code: "FEE_TOO_LOW", Message: "entry fee below minimum"}
	ErrInvalidAmount    = &Error{Kind: KindValidation, Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	ErrWrongEntryAmount = &Error{Kind: KindValidation, Code: "WRONG_ENTRY_AMOUNT", Message: "payment amount must equal the entry fee"}
	ErrInvalidURL       = &Error{Kind: KindValidation, Code: "INVALID_URL", Message: "solution url must be an absolute http(s) url"}
	ErrInvalidRequest   = &Error{Kind: KindValidation, Code: "INVALID_REQUEST", Message: "malformed request"}
	ErrNoEntryPayment   = &Error{Kind: KindValidation, Code: "NO_ENTRY_PAYMENT", Message: "enrollment has no recorded entry payment"}
	ErrPaymentRejected  = &Error{Kind: KindValidation, Code: "PAYMENT_REJECTED", Message: "transaction does not pay the expected amount from the caller to escrow"}
	ErrOverflow         = &Error{Kind: KindValidation, Code: "OVERFLOW", Message: "amount arithmetic overflow"}
)

// ---- Fase ----

var (
	ErrPhaseViolation        = &Error{Kind: KindPhase, Code: "PHASE_VIOLATION", Message: "operation not valid in the current phase"}
	ErrChallengeNotEnrolling = &Error{Kind: KindPhase, Code: "CHALLENGE_NOT_ENROLLING", Message: "challenge is not accepting enrollments"}
	ErrMustRevealFirst       = &Error{Kind: KindPhase, Code: "MUST_REVEAL_FIRST", Message: "enrollment must be revealed first"}
	ErrCompeteDeadlinePassed = &Error{Kind: KindPhase, Code: "COMPETE_DEADLINE_PASSED", Message: "compete deadline has passed"}
	ErrRefundDeadlinePassed  = &Error{Kind: KindPhase, Code: "REFUND_DEADLINE_PASSED", Message: "refund deadline has passed"}
	ErrTooFewAgents          = &Error{Kind: KindPhase, Code: "TOO_FEW_AGENTS", Message: "not enough agents enrolled"}
	ErrCannotCancel          = &Error{Kind: KindPhase, Code: "CANNOT_CANCEL", Message: "challenge cannot be cancelled now"}
	ErrNotSettled            = &Error{Kind: KindPhase, Code: "NOT_SETTLED", Message: "challenge is neither completed nor cancelled"}
)

// ---- No encontrado ----

var (
	ErrChallengeNotFound = &Error{Kind: KindNotFound, Code: "CHALLENGE_NOT_FOUND", Message: "challenge not found"}
	ErrAgentNotFound     = &Error{Kind: KindNotFound, Code: "AGENT_NOT_FOUND", Message: "agent not enrolled in challenge"}
	ErrNotEnrolled       = &Error{Kind: KindNotFound, Code: "NOT_ENROLLED", Message: "wallet is not enrolled in challenge"}
	ErrBetNotFound       = &Error{Kind: KindNotFound, Code: "BET_NOT_FOUND", Message: "bet not found"}
)

// ---- Conflicto (guardas de idempotencia) ----

var (
	ErrChallengeExists    = &Error{Kind: KindConflict, Code: "CHALLENGE_EXISTS", Message: "challenge already exists"}
	ErrAlreadyEnrolled    = &Error{Kind: KindConflict, Code: "ALREADY_ENROLLED", Message: "wallet already enrolled"}
	ErrAgentTaken         = &Error{Kind: KindConflict, Code: "AGENT_TAKEN", Message: "agent id already enrolled"}
	ErrChallengeFull      = &Error{Kind: KindConflict, Code: "CHALLENGE_FULL", Message: "maximum agent capacity reached"}
	ErrAlreadyRevealed    = &Error{Kind: KindConflict, Code: "ALREADY_REVEALED", Message: "enrollment already revealed"}
	ErrAlreadySubmitted   = &Error{Kind: KindConflict, Code: "ALREADY_SUBMITTED", Message: "solution already submitted"}
	ErrAlreadyWithdrawn   = &Error{Kind: KindConflict, Code: "ALREADY_WITHDRAWN", Message: "enrollment already withdrawn"}
	ErrDuplicatePayment   = &Error{Kind: KindConflict, Code: "DUPLICATE_PAYMENT", Message: "transaction hash already recorded"}
	ErrAlreadyVoted       = &Error{Kind: KindConflict, Code: "ALREADY_VOTED", Message: "wallet already voted"}
	ErrAlreadyFinalized   = &Error{Kind: KindConflict, Code: "ALREADY_FINALIZED", Message: "challenge already settled"}
	ErrAlreadyClaimed     = &Error{Kind: KindConflict, Code: "ALREADY_CLAIMED", Message: "payouts already claimed"}
	ErrPaymentNotVerified = &Error{Kind: KindConflict, Code: "PAYMENT_NOT_VERIFIED", Message: "entry payment is not verified yet"}
	ErrStatusConflict     = &Error{Kind: KindConflict, Code: "STATUS_CONFLICT", Message: "record was modified concurrently"}
)

// ---- Autorización ----

var (
	ErrInsufficientBalance = &Error{Kind: KindAuthorization, Code: "INSUFFICIENT_BALANCE", Message: "voter balance below minimum"}
	ErrCreatorCannotBet    = &Error{Kind: KindAuthorization, Code: "CREATOR_CANNOT_BET", Message: "challenge creator cannot place bets"}
	ErrNothingToClaim      = &Error{Kind: KindAuthorization, Code: "NOTHING_TO_CLAIM", Message: "wallet has nothing to claim"}
	ErrNotAuthorized       = &Error{Kind: KindAuthorization, Code: "NOT_AUTHORIZED", Message: "caller not allowed to perform this operation"}
)

// ---- Store ----

var ErrStore = &Error{Kind: KindStore, Code: "STORE_ERROR", Message: "ledger store failure"}

// StoreErr envuelve un fallo del driver como KindStore conservando la causa.
func StoreErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// KindOf devuelve el Kind del primer *Error de la cadena, o KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf devuelve el Code del primer *Error de la cadena, o "INTERNAL".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
