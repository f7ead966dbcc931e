package escrow

// concurrent.go — worker pool para verificar pagos en paralelo.
//
// Cada verificación es una llamada al adaptador (RPC en producción); el rate
// limiter del adaptador sigue acotando el ritmo. Las escrituras al store
// las hace el caller, en serie.

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

type verifyResult struct {
	hash   string
	status domain.PaymentStatus
}

// verifyConcurrent verifica cada pago y devuelve su estado por tx hash.
// Los que fallan por error quedan como pendientes. Si workers <= 0 usa
// runtime.NumCPU() × 2.
func (e *Engine) verifyConcurrent(ctx context.Context, payments []domain.Payment, workers int) map[string]domain.PaymentStatus {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if workers > len(payments) {
		workers = len(payments)
	}

	workCh := make(chan domain.Payment, len(payments))
	resultCh := make(chan verifyResult, len(payments))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range workCh {
				if ctx.Err() != nil {
					continue
				}
				st, err := e.verifyPayment(ctx, p)
				if err != nil {
					slog.Warn("escrow: payment not verifiable", "kind", p.Kind, "tx", p.TxHash, "err", err)
					continue
				}
				resultCh <- verifyResult{hash: p.TxHash, status: st}
			}
		}()
	}

	for _, p := range payments {
		workCh <- p
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	statuses := make(map[string]domain.PaymentStatus, len(payments))
	verified, rejected := 0, 0
	for r := range resultCh {
		statuses[r.hash] = r.status
		switch r.status {
		case domain.PaymentVerified:
			verified++
		case domain.PaymentRejected:
			rejected++
		}
	}

	slog.Debug("escrow: concurrent verification complete",
		"queued", len(payments),
		"verified", verified,
		"rejected", rejected,
		"workers", workers,
	)
	return statuses
}
