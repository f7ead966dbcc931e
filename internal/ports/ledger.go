package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// LedgerStore es el store transaccional de registros del motor.
//
// Toda unicidad (una inscripción por wallet, un voto por wallet, un claim por
// tipo) la impone el store con constraints: los Insert* devuelven el error de
// conflicto de domain (ErrAlreadyEnrolled, ErrAlreadyVoted…) cuando la
// constraint salta, nunca un read-then-write. Los acumuladores se actualizan
// con incrementos atómicos. Los fallos del driver se devuelven envueltos con
// domain.StoreErr.
type LedgerStore interface {
	// Challenges
	CreateChallenge(ctx context.Context, c domain.Challenge) error
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)
	// AdvanceStatus mueve el status from → to solo si sigue en from.
	// Devuelve domain.ErrStatusConflict si otra escritura se adelantó.
	AdvanceStatus(ctx context.Context, id string, from, to domain.ChallengeStatus) error
	CancelChallenge(ctx context.Context, id string, at time.Time) error

	// Enrollments
	// InsertEnrollment inserta la inscripción respetando maxAgents y, si trae
	// pago, incrementa el entry pool en la misma transacción.
	InsertEnrollment(ctx context.Context, e domain.Enrollment, entryAmount domain.Amount, maxAgents int) error
	GetEnrollmentByWallet(ctx context.Context, challengeID, wallet string) (domain.Enrollment, error)
	GetEnrollmentByAgent(ctx context.Context, challengeID, agentID string) (domain.Enrollment, error)
	ListEnrollments(ctx context.Context, challengeID string) ([]domain.Enrollment, error)
	CountLiveEnrollments(ctx context.Context, challengeID string) (int, error)
	MarkRevealed(ctx context.Context, enrollmentID string, at, competeDeadline, refundDeadline time.Time) error
	MarkSubmitted(ctx context.Context, enrollmentID string, at time.Time, solutionURL, commitHash string) error
	// MarkEntryVerified y MarkBetVerified devuelven domain.ErrAlreadyFinalized
	// si el challenge ya está completado: el plan no puede cambiar.
	MarkEntryVerified(ctx context.Context, enrollmentID string) error
	// WithdrawEnrollment hace revealed → withdrawn, descuenta el entry pool y
	// escribe los payouts del reembolso, todo en una transacción.
	WithdrawEnrollment(ctx context.Context, e domain.Enrollment, entryFee domain.Amount, payouts []domain.Payout) error

	// Bets
	InsertBet(ctx context.Context, b domain.Bet) error
	ListBets(ctx context.Context, challengeID string) ([]domain.Bet, error)
	MarkBetVerified(ctx context.Context, betID string) error
	VerifiedBetTotals(ctx context.Context, challengeID string) (domain.BetTotals, error)

	// Votes
	// RecordVote inserta el voto e incrementa el contador del agente en una transacción.
	RecordVote(ctx context.Context, v domain.Vote) error

	// Settlement
	// FinalizeChallenge fija winner + completed, materializa el plan y escribe
	// los payouts de plataforma en una transacción.
	FinalizeChallenge(ctx context.Context, s domain.Settlement) error
	GetPlan(ctx context.Context, challengeID, wallet string) ([]domain.PlanEntry, error)

	// Claims / payouts
	HasClaimed(ctx context.Context, challengeID, wallet string) (bool, error)
	// InsertClaim escribe los payouts de un claim. Devuelve domain.ErrAlreadyClaimed
	// si ya existe cualquier fila de tipo claim para (challenge, wallet).
	InsertClaim(ctx context.Context, challengeID, wallet string, payouts []domain.Payout) error
	ListPayouts(ctx context.Context, challengeID string) ([]domain.Payout, error)

	Close() error
}
