package ports

import (
	"context"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// PaymentVerifier es el adaptador de escrow de una cadena.
//
// No guarda estado: cada llamada recibe el pago esperado, construido por el
// motor desde el ledger, y lo compara con la transacción. El motor nunca
// ejecuta transferencias.
type PaymentVerifier interface {
	// Verify devuelve PaymentVerified solo si la transacción está confirmada
	// y paga p.Amount desde p.Wallet al escrow. Una transacción desconocida o
	// sin confirmaciones suficientes es PaymentPending, no un error.
	Verify(ctx context.Context, p domain.Payment) (domain.PaymentStatus, error)
}

// BalanceOracle es el check anti-sybil de los votos.
type BalanceOracle interface {
	// HasMinimumBalance devuelve true si la wallet supera el balance mínimo configurado.
	HasMinimumBalance(ctx context.Context, wallet string) (bool, error)
}
