// Package manual implementa los puertos de pago sin cadena: un operador
// confirma o rechaza los pagos a mano (vía la API de admin en -dry-run) y
// el balance anti-sybil es una lista estática. Se usa en -dry-run y en tests.
package manual

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
	"github.com/alejandrodnm/arenaescrow/internal/ports"
)

// Verifier da por verificados los hashes que un operador aprobó (o todos,
// con autoApprove) y por rechazados los que rechazó. Lo que consulta sin
// decisión queda en la cola de pendientes para el operador.
type Verifier struct {
	mu          sync.RWMutex
	approved    map[string]bool
	rejected    map[string]bool
	pending     map[string]domain.Payment
	autoApprove bool
}

var _ ports.PaymentVerifier = (*Verifier)(nil)

// NewVerifier crea un verificador manual. Con autoApprove todo pago es válido.
func NewVerifier(autoApprove bool) *Verifier {
	return &Verifier{
		approved:    make(map[string]bool),
		rejected:    make(map[string]bool),
		pending:     make(map[string]domain.Payment),
		autoApprove: autoApprove,
	}
}

func (v *Verifier) Verify(_ context.Context, p domain.Payment) (domain.PaymentStatus, error) {
	if p.TxHash == "" {
		return domain.PaymentPending, domain.ErrInvalidRequest
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.rejected[p.TxHash]:
		return domain.PaymentRejected, nil
	case v.autoApprove, v.approved[p.TxHash]:
		delete(v.pending, p.TxHash)
		return domain.PaymentVerified, nil
	}
	// El primer registro de un hash se conserva: otro caller no lo reescribe.
	if _, seen := v.pending[p.TxHash]; !seen {
		v.pending[p.TxHash] = p
		slog.Debug("manual: payment awaiting approval", "kind", p.Kind, "challenge", p.ChallengeID, "wallet", p.Wallet, "tx", p.TxHash)
	}
	return domain.PaymentPending, nil
}

// Approve marca un hash como confirmado.
func (v *Verifier) Approve(txHash string) {
	v.mu.Lock()
	v.approved[txHash] = true
	delete(v.rejected, txHash)
	delete(v.pending, txHash)
	v.mu.Unlock()
	slog.Info("manual: payment approved", "tx", txHash)
}

// Reject marca un hash como inválido de forma definitiva.
func (v *Verifier) Reject(txHash string) {
	v.mu.Lock()
	v.rejected[txHash] = true
	delete(v.approved, txHash)
	delete(v.pending, txHash)
	v.mu.Unlock()
	slog.Info("manual: payment rejected", "tx", txHash)
}

// Pending devuelve los pagos consultados que aún esperan decisión, por hash.
func (v *Verifier) Pending() []domain.Payment {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Payment, 0, len(v.pending))
	for _, p := range v.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxHash < out[j].TxHash })
	return out
}

// BalanceOracle responde con una lista fija de wallets. Las wallets sin
// entrada explícita reciben el valor por defecto.
type BalanceOracle struct {
	mu       sync.RWMutex
	eligible map[string]bool
	fallback bool
}

var _ ports.BalanceOracle = (*BalanceOracle)(nil)

// NewBalanceOracle crea el oráculo. Sin wallets, todas son elegibles salvo
// las que se excluyan con Set; con wallets, solo esas.
func NewBalanceOracle(wallets ...string) *BalanceOracle {
	o := &BalanceOracle{eligible: make(map[string]bool), fallback: len(wallets) == 0}
	for _, w := range wallets {
		o.eligible[w] = true
	}
	return o
}

func (o *BalanceOracle) HasMinimumBalance(_ context.Context, wallet string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if ok, found := o.eligible[wallet]; found {
		return ok, nil
	}
	return o.fallback, nil
}

// Set fija la elegibilidad de una wallet concreta.
func (o *BalanceOracle) Set(wallet string, eligible bool) {
	o.mu.Lock()
	o.eligible[wallet] = eligible
	o.mu.Unlock()
}
