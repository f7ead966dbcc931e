package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/arenaescrow/internal/application/escrow"
	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

const maxBodyBytes = 1 << 20

// errorResponse es el cuerpo de cualquier respuesta de error.
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("server: encoding response", "err", err)
	}
}

// respondError traduce un error del motor a status HTTP por su Kind.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	resp := errorResponse{
		Error:     domain.CodeOf(err),
		Kind:      kind.String(),
		Retryable: kind.Retryable(),
	}

	var de *domain.Error
	switch {
	case kind == domain.KindStore:
		resp.Message = domain.ErrStore.Message
		slog.Error("server: store failure", "path", r.URL.Path, "err", err)
	case errors.As(err, &de):
		resp.Message = de.Message
	default:
		resp.Message = "internal error"
		slog.Error("server: unexpected error", "path", r.URL.Path, "err", err)
	}
	respondJSON(w, statusFor(kind), resp)
}

func statusFor(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindPhase:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON lee el cuerpo en v. Un cuerpo vacío deja v intacto.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrInvalidRequest
	}
	return nil
}

// ---- DTOs ----

type challengeJSON struct {
	ID             string     `json:"id"`
	Creator        string     `json:"creator"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	EntryFee       int64      `json:"entry_fee"`
	EnrollEnd      time.Time  `json:"enroll_end"`
	CompeteEnd     time.Time  `json:"compete_end"`
	JudgeEnd       time.Time  `json:"judge_end"`
	Status         string     `json:"status"`
	Phase          string     `json:"phase,omitempty"`
	LiveAgents     *int       `json:"live_agents,omitempty"`
	TotalEntryPool int64      `json:"total_entry_pool"`
	TotalBetPool   int64      `json:"total_bet_pool"`
	WinnerAgentID  string     `json:"winner_agent_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinalizedAt    *time.Time `json:"finalized_at,omitempty"`
}

func toChallengeJSON(c domain.Challenge) challengeJSON {
	return challengeJSON{
		ID:             c.ID,
		Creator:        c.CreatorWallet,
		Title:          c.Title,
		Description:    c.Description,
		EntryFee:       int64(c.EntryFee),
		EnrollEnd:      c.EnrollEnd,
		CompeteEnd:     c.CompeteEnd,
		JudgeEnd:       c.JudgeEnd,
		Status:         string(c.Status),
		TotalEntryPool: int64(c.TotalEntryPool),
		TotalBetPool:   int64(c.TotalBetPool),
		WinnerAgentID:  c.WinnerAgentID,
		CreatedAt:      c.CreatedAt,
		FinalizedAt:    c.FinalizedAt,
	}
}

func toChallengeViewJSON(v escrow.ChallengeView) challengeJSON {
	out := toChallengeJSON(v.Challenge)
	out.Phase = string(v.Phase)
	live := v.LiveAgents
	out.LiveAgents = &live
	return out
}

type enrollmentJSON struct {
	ID              string     `json:"id"`
	ChallengeID     string     `json:"challenge_id"`
	AgentID         string     `json:"agent_id"`
	Wallet          string     `json:"wallet"`
	AgentName       string     `json:"agent_name,omitempty"`
	EntryTxHash     string     `json:"entry_tx_hash,omitempty"`
	EntryVerified   bool       `json:"entry_verified"`
	Status          string     `json:"status"`
	VoteCount       int64      `json:"vote_count"`
	EnrolledAt      time.Time  `json:"enrolled_at"`
	RevealedAt      *time.Time `json:"revealed_at,omitempty"`
	CompeteDeadline *time.Time `json:"compete_deadline,omitempty"`
	RefundDeadline  *time.Time `json:"refund_deadline,omitempty"`
}

func toEnrollmentJSON(e domain.Enrollment) enrollmentJSON {
	return enrollmentJSON{
		ID:              e.ID,
		ChallengeID:     e.ChallengeID,
		AgentID:         e.AgentID,
		Wallet:          e.OwnerWallet,
		AgentName:       e.AgentName,
		EntryTxHash:     e.EntryTxHash,
		EntryVerified:   e.EntryVerified,
		Status:          string(e.Status),
		VoteCount:       e.VoteCount,
		EnrolledAt:      e.EnrolledAt,
		RevealedAt:      e.RevealedAt,
		CompeteDeadline: e.CompeteDeadline,
		RefundDeadline:  e.RefundDeadline,
	}
}

type betJSON struct {
	ID          string    `json:"id"`
	ChallengeID string    `json:"challenge_id"`
	Wallet      string    `json:"wallet"`
	AgentID     string    `json:"agent_id"`
	Amount      int64     `json:"amount"`
	TxHash      string    `json:"tx_hash"`
	Verified    bool      `json:"verified"`
	PlacedAt    time.Time `json:"placed_at"`
}

func toBetJSON(b domain.Bet) betJSON {
	return betJSON{
		ID:          b.ID,
		ChallengeID: b.ChallengeID,
		Wallet:      b.BettorWallet,
		AgentID:     b.AgentID,
		Amount:      int64(b.Amount),
		TxHash:      b.TxHash,
		Verified:    b.Verified,
		PlacedAt:    b.PlacedAt,
	}
}

type payoutJSON struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Amount    int64     `json:"amount"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toPayoutsJSON(ps []domain.Payout) []payoutJSON {
	out := make([]payoutJSON, 0, len(ps))
	for _, p := range ps {
		out = append(out, payoutJSON{
			ID:        p.ID,
			Wallet:    p.RecipientWallet,
			Amount:    int64(p.Amount),
			Type:      string(p.Type),
			Status:    string(p.Status),
			CreatedAt: p.CreatedAt,
		})
	}
	return out
}

type planEntryJSON struct {
	Wallet string `json:"wallet"`
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

type settlementJSON struct {
	ChallengeID   string          `json:"challenge_id"`
	WinnerAgentID string          `json:"winner_agent_id"`
	WinnerWallet  string          `json:"winner_wallet"`
	WinnerVotes   int64           `json:"winner_votes"`
	EntryPool     int64           `json:"entry_pool"`
	BetPool       int64           `json:"bet_pool"`
	Plan          []planEntryJSON `json:"plan"`
	PlatformFees  []payoutJSON    `json:"platform_fees"`
	FinalizedAt   time.Time       `json:"finalized_at"`
}

func toSettlementJSON(s domain.Settlement) settlementJSON {
	plan := make([]planEntryJSON, 0, len(s.Plan))
	for _, pe := range s.Plan {
		plan = append(plan, planEntryJSON{Wallet: pe.Wallet, Type: string(pe.Type), Amount: int64(pe.Amount)})
	}
	return settlementJSON{
		ChallengeID:   s.ChallengeID,
		WinnerAgentID: s.WinnerAgentID,
		WinnerWallet:  s.WinnerWallet,
		WinnerVotes:   s.WinnerVotes,
		EntryPool:     int64(s.EntryPool),
		BetPool:       int64(s.BetPool),
		Plan:          plan,
		PlatformFees:  toPayoutsJSON(s.PlatformFees),
		FinalizedAt:   s.FinalizedAt,
	}
}
