package main

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/arenaescrow/internal/adapters/notify"
	"github.com/alejandrodnm/arenaescrow/internal/application/escrow"
)

// runReport imprime el ledger de pagos de un challenge.
func runReport(ctx context.Context, eng *escrow.Engine, console *notify.Console, challengeID string) error {
	view, err := eng.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	payouts, err := eng.ListPayouts(ctx, challengeID)
	if err != nil {
		return err
	}
	console.PrintLedger(view.Challenge, view.Phase, payouts)
	return nil
}

// runReconcile vuelve a consultar los pagos sin verificar de un challenge.
func runReconcile(ctx context.Context, eng *escrow.Engine, challengeID string) error {
	res, err := eng.ReconcilePayments(ctx, challengeID)
	if err != nil {
		return err
	}
	slog.Info("reconcile complete",
		"challenge", challengeID,
		"entries_verified", res.EntriesVerified,
		"bets_verified", res.BetsVerified,
		"rejected", res.Rejected,
		"still_pending", res.StillPending,
	)
	return nil
}
