// Package server expone las operaciones del motor de escrow por HTTP.
//
// La identidad de la wallet llega en la cabecera X-Wallet, autenticada
// aguas arriba. Los errores del dominio se traducen a status HTTP por Kind.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alejandrodnm/arenaescrow/internal/application/escrow"
	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// WalletHeader es la cabecera con la wallet del caller.
const WalletHeader = "X-Wallet"

// Service es el subconjunto del motor que sirve la API.
type Service interface {
	CreateChallenge(ctx context.Context, creator string, req escrow.CreateChallengeRequest) (domain.Challenge, error)
	GetChallenge(ctx context.Context, id string) (escrow.ChallengeView, error)
	Cancel(ctx context.Context, id, caller string) (domain.Challenge, error)

	Enroll(ctx context.Context, challengeID, wallet string, agent escrow.Agent, payment *escrow.PaymentProof) (domain.Enrollment, error)
	Reveal(ctx context.Context, challengeID, wallet string) (domain.Enrollment, error)
	Submit(ctx context.Context, challengeID, wallet, solutionURL, commitHash string) (time.Time, error)
	Withdraw(ctx context.Context, challengeID, wallet string) (domain.WithdrawResult, error)

	PlaceBet(ctx context.Context, challengeID, wallet, agentID string, amount domain.Amount, txHash string) (domain.Bet, error)
	ConfirmBet(ctx context.Context, challengeID, betID string) (domain.Bet, error)
	ReconcilePayments(ctx context.Context, challengeID string) (escrow.ReconcileResult, error)
	CastVote(ctx context.Context, challengeID, wallet, agentID string) (domain.Vote, error)

	Finalize(ctx context.Context, challengeID string) (domain.Settlement, error)
	Claim(ctx context.Context, challengeID, wallet string) (domain.ClaimResult, error)
	ListPayouts(ctx context.Context, challengeID string) ([]domain.Payout, error)
}

var _ Service = (*escrow.Engine)(nil)

// PaymentApprover es la cola de decisiones de un verificador manual.
type PaymentApprover interface {
	Approve(txHash string)
	Reject(txHash string)
	Pending() []domain.Payment
}

// Options configura el router.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration

	// Con Approver se montan las rutas /api/v1/admin/payments, solo para AdminWallet.
	Approver    PaymentApprover
	AdminWallet string
}

// Server agrupa el router y el servicio.
type Server struct {
	svc         Service
	approver    PaymentApprover
	adminWallet string
	router      chi.Router
}

// New construye el router con middleware y rutas.
func New(svc Service, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{svc: svc, approver: opts.Approver, adminWallet: opts.AdminWallet}
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", WalletHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api/v1/challenges", func(r chi.Router) {
		r.Post("/", s.createChallenge)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getChallenge)
			r.Post("/cancel", s.cancel)

			r.Post("/enroll", s.enroll)
			r.Post("/reveal", s.reveal)
			r.Post("/submit", s.submit)
			r.Post("/withdraw", s.withdraw)

			r.Post("/bets", s.placeBet)
			r.Post("/bets/{betID}/confirm", s.confirmBet)
			r.Post("/reconcile", s.reconcile)
			r.Post("/votes", s.castVote)

			r.Post("/finalize", s.finalize)
			r.Post("/claim", s.claim)
			r.Get("/payouts", s.listPayouts)
		})
	})

	if s.approver != nil {
		r.Route("/api/v1/admin/payments", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/", s.pendingPayments)
			r.Post("/{txHash}/approve", s.approvePayment)
			r.Post("/{txHash}/reject", s.rejectPayment)
		})
	}

	s.router = r
	return s
}

// ServeHTTP implementa http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
