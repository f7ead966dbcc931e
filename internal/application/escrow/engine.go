// Package escrow es el motor de escrow y liquidación de challenges.
//
// El motor no guarda estado propio: cada operación lee el challenge del
// LedgerStore, resuelve la fase con el reloj y delega la unicidad y los
// incrementos al store. Varias instancias pueden servir el mismo store.
package escrow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
	"github.com/alejandrodnm/arenaescrow/internal/ports"
)

// Config contiene los parámetros del motor.
type Config struct {
	PlatformWallet string        // recibe peek fees y fees de plataforma
	MinEntryFee    domain.Amount // entry fee mínimo al crear un challenge
	MinAgents      int           // agentes vivos necesarios para apostar, votar y finalizar
	MaxAgents      int           // tope de inscripciones vivas (0 = sin tope)
	CompeteWindow  time.Duration // reveal → compete deadline
	RefundWindow   time.Duration // reveal → refund deadline
	VerifyWorkers  int           // consultas de pago en paralelo al reconciliar (0 = NumCPU × 2)
	Clock          func() time.Time
}

// Engine orquesta las operaciones del ciclo de vida de un challenge.
type Engine struct {
	cfg      Config
	store    ports.LedgerStore
	verifier ports.PaymentVerifier
	oracle   ports.BalanceOracle
	notifier ports.Notifier // opcional
	now      func() time.Time
}

// New crea un Engine con todas las dependencias inyectadas.
func New(
	cfg Config,
	store ports.LedgerStore,
	verifier ports.PaymentVerifier,
	oracle ports.BalanceOracle,
	notifier ports.Notifier,
) *Engine {
	if cfg.MinEntryFee <= 0 {
		cfg.MinEntryFee = 1
	}
	if cfg.MinAgents <= 0 {
		cfg.MinAgents = 3
	}
	if cfg.CompeteWindow <= 0 {
		cfg.CompeteWindow = 24 * time.Hour
	}
	if cfg.RefundWindow <= 0 {
		cfg.RefundWindow = time.Hour
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		oracle:   oracle,
		notifier: notifier,
		now:      func() time.Time { return now().UTC().Truncate(time.Millisecond) },
	}
}

// load lee el challenge, resuelve su fase en now y exige que la acción
// sea válida. Si el status guardado va por detrás del reloj lo adelanta
// con un compare-and-set antes de comprobar la acción.
func (e *Engine) load(ctx context.Context, id string, a domain.Action, now time.Time) (domain.Challenge, domain.Phase, error) {
	c, err := e.store.GetChallenge(ctx, id)
	if err != nil {
		return c, "", err
	}

	p, err := domain.ResolvePhase(c, now)
	if err != nil {
		return c, p, err
	}

	if target, ok := domain.ClockStatus(p); ok && target != c.Status {
		err := e.store.AdvanceStatus(ctx, id, c.Status, target)
		switch {
		case err == nil:
			slog.Debug("escrow: status advanced", "challenge", id, "from", c.Status, "to", target)
			c.Status = target
		case errors.Is(err, domain.ErrStatusConflict):
			// Otra escritura se adelantó (otro avance, Cancel o Finalize): releer.
			if c, err = e.store.GetChallenge(ctx, id); err != nil {
				return c, "", err
			}
		default:
			return c, p, err
		}
	}

	p, err = domain.RequirePhase(c, now, a)
	return c, p, err
}

// requireMinAgents cuenta las inscripciones vivas y exige el mínimo configurado.
func (e *Engine) requireMinAgents(ctx context.Context, challengeID string) (int, error) {
	n, err := e.store.CountLiveEnrollments(ctx, challengeID)
	if err != nil {
		return 0, err
	}
	if n < e.cfg.MinAgents {
		return n, domain.ErrTooFewAgents
	}
	return n, nil
}

func newPayout(challengeID, wallet string, t domain.PayoutType, amt domain.Amount, at time.Time) domain.Payout {
	return domain.Payout{
		ID:              uuid.New().String(),
		ChallengeID:     challengeID,
		RecipientWallet: wallet,
		Amount:          amt,
		Type:            t,
		Status:          domain.PayoutPending,
		CreatedAt:       at,
	}
}
