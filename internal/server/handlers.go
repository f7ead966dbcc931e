package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alejandrodnm/arenaescrow/internal/application/escrow"
	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// wallet lee la cabecera X-Wallet. Sin ella responde 400 y devuelve false.
func wallet(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(WalletHeader))
	if id == "" {
		respondError(w, r, domain.ErrInvalidRequest)
		return "", false
	}
	return id, true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "escrowd",
	})
}

// ---- Challenges ----

type createChallengeRequest struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	EntryFee    int64     `json:"entry_fee"`
	EnrollEnd   time.Time `json:"enroll_end"`
	CompeteEnd  time.Time `json:"compete_end"`
	JudgeEnd    time.Time `json:"judge_end"`
}

func (s *Server) createChallenge(w http.ResponseWriter, r *http.Request) {
	creator, ok := wallet(w, r)
	if !ok {
		return
	}
	var req createChallengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	c, err := s.svc.CreateChallenge(r.Context(), creator, escrow.CreateChallengeRequest{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		EntryFee:    domain.Amount(req.EntryFee),
		EnrollEnd:   req.EnrollEnd,
		CompeteEnd:  req.CompeteEnd,
		JudgeEnd:    req.JudgeEnd,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toChallengeJSON(c))
}

func (s *Server) getChallenge(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.GetChallenge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toChallengeViewJSON(v))
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := wallet(w, r)
	if !ok {
		return
	}
	c, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toChallengeJSON(c))
}

// ---- Enrollment ----

type enrollRequest struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Metadata  string `json:"metadata"`
	TxHash    string `json:"tx_hash"`
	Amount    int64  `json:"amount"`
}

func (s *Server) enroll(w http.ResponseWriter, r *http.Request) {
	owner, ok := wallet(w, r)
	if !ok {
		return
	}
	var req enrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	var payment *escrow.PaymentProof
	if req.TxHash != "" {
		payment = &escrow.PaymentProof{TxHash: req.TxHash, Amount: domain.Amount(req.Amount)}
	}
	en, err := s.svc.Enroll(r.Context(), chi.URLParam(r, "id"), owner,
		escrow.Agent{ID: req.AgentID, Name: req.AgentName, Metadata: req.Metadata}, payment)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toEnrollmentJSON(en))
}

func (s *Server) reveal(w http.ResponseWriter, r *http.Request) {
	owner, ok := wallet(w, r)
	if !ok {
		return
	}
	en, err := s.svc.Reveal(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toEnrollmentJSON(en))
}

type submitRequest struct {
	SolutionURL string `json:"solution_url"`
	CommitHash  string `json:"commit_hash"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	owner, ok := wallet(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	at, err := s.svc.Submit(r.Context(), chi.URLParam(r, "id"), owner, req.SolutionURL, req.CommitHash)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"submitted_at": at})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	owner, ok := wallet(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Withdraw(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{
		"refund_amount": int64(res.RefundAmount),
		"peek_fee":      int64(res.PeekFee),
	})
}

// ---- Apuestas y votos ----

type betRequest struct {
	AgentID string `json:"agent_id"`
	Amount  int64  `json:"amount"`
	TxHash  string `json:"tx_hash"`
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	bettor, ok := wallet(w, r)
	if !ok {
		return
	}
	var req betRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	b, err := s.svc.PlaceBet(r.Context(), chi.URLParam(r, "id"), bettor, req.AgentID, domain.Amount(req.Amount), req.TxHash)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toBetJSON(b))
}

func (s *Server) confirmBet(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.ConfirmBet(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "betID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toBetJSON(b))
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.ReconcilePayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"entries_verified": res.EntriesVerified,
		"bets_verified":    res.BetsVerified,
		"rejected":         res.Rejected,
		"still_pending":    res.StillPending,
	})
}

type voteRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	voter, ok := wallet(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	v, err := s.svc.CastVote(r.Context(), chi.URLParam(r, "id"), voter, req.AgentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"challenge_id": v.ChallengeID,
		"wallet":       v.VoterWallet,
		"agent_id":     v.AgentID,
		"cast_at":      v.CastAt,
	})
}

// ---- Liquidación ----

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Finalize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSettlementJSON(st))
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	claimant, ok := wallet(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Claim(r.Context(), chi.URLParam(r, "id"), claimant)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"challenge_id": res.ChallengeID,
		"wallet":       res.Wallet,
		"total_payout": int64(res.TotalPayout),
		"entries":      toPayoutsJSON(res.Entries),
	})
}

func (s *Server) listPayouts(w http.ResponseWriter, r *http.Request) {
	ps, err := s.svc.ListPayouts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"payouts": toPayoutsJSON(ps),
		"count":   len(ps),
	})
}
