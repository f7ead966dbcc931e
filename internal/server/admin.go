package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// requireAdmin deja pasar solo a la wallet de administración.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := wallet(w, r)
		if !ok {
			return
		}
		if s.adminWallet == "" || caller != s.adminWallet {
			respondError(w, r, domain.ErrNotAuthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type paymentJSON struct {
	Kind        string `json:"kind"`
	ChallengeID string `json:"challenge_id"`
	RefID       string `json:"ref_id"`
	Wallet      string `json:"wallet"`
	Amount      int64  `json:"amount"`
	TxHash      string `json:"tx_hash"`
}

func (s *Server) pendingPayments(w http.ResponseWriter, _ *http.Request) {
	pending := s.approver.Pending()
	out := make([]paymentJSON, 0, len(pending))
	for _, p := range pending {
		out = append(out, paymentJSON{
			Kind:        string(p.Kind),
			ChallengeID: p.ChallengeID,
			RefID:       p.RefID,
			Wallet:      p.Wallet,
			Amount:      int64(p.Amount),
			TxHash:      p.TxHash,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"payments": out, "count": len(out)})
}

// approvePayment solo registra la decisión; el ledger cambia con el
// siguiente confirm o reconcile del challenge.
func (s *Server) approvePayment(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "txHash")
	s.approver.Approve(hash)
	respondJSON(w, http.StatusOK, map[string]string{"tx_hash": hash, "decision": "approved"})
}

func (s *Server) rejectPayment(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "txHash")
	s.approver.Reject(hash)
	respondJSON(w, http.StatusOK, map[string]string{"tx_hash": hash, "decision": "rejected"})
}
