package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
	"github.com/alejandrodnm/arenaescrow/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier escribiendo tablas en texto plano.
type Console struct {
	out io.Writer
}

var _ ports.Notifier = (*Console)(nil)

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifySettlement imprime el ganador y el plan de pagos de un challenge.
func (c *Console) NotifySettlement(_ context.Context, s domain.Settlement) error {
	fmt.Fprintf(c.out, "\n[%s] challenge %s settled, winner %s (%s, %d votes)\n",
		s.FinalizedAt.Format(time.RFC3339), s.ChallengeID, s.WinnerAgentID, s.WinnerWallet, s.WinnerVotes)
	fmt.Fprintf(c.out, "entry pool %s · verified bet pool %s\n", s.EntryPool, s.BetPool)

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Wallet", "Type", "Amount", "Claim")

	var planned domain.Amount
	for i, p := range s.Plan {
		table.Append(fmt.Sprintf("%d", i+1), p.Wallet, string(p.Type), p.Amount.String(), "on claim")
		planned += p.Amount
	}
	for _, p := range s.PlatformFees {
		table.Append("-", p.RecipientWallet, string(p.Type), p.Amount.String(), "written")
		planned += p.Amount
	}
	table.Render()

	dust := s.EntryPool + s.BetPool - planned
	fmt.Fprintf(c.out, "planned %s · rounding remainder kept in escrow %s\n", planned, dust)
	return nil
}

// PrintLedger imprime el estado de un challenge y todos sus payouts.
func (c *Console) PrintLedger(ch domain.Challenge, phase domain.Phase, payouts []domain.Payout) {
	fmt.Fprintf(c.out, "\nchallenge %s %q\n", ch.ID, ch.Title)
	fmt.Fprintf(c.out, "status %s · phase %s · entry fee %s · entry pool %s · bet pool %s\n",
		ch.Status, phase, ch.EntryFee, ch.TotalEntryPool, ch.TotalBetPool)
	if ch.WinnerAgentID != "" {
		fmt.Fprintf(c.out, "winner %s\n", ch.WinnerAgentID)
	}

	if len(payouts) == 0 {
		fmt.Fprintln(c.out, "no payouts recorded")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Created", "Recipient", "Type", "Amount", "Status")

	byType := make(map[domain.PayoutType]domain.Amount)
	for _, p := range payouts {
		table.Append(p.CreatedAt.Format("2006-01-02 15:04:05"), p.RecipientWallet,
			string(p.Type), p.Amount.String(), string(p.Status))
		byType[p.Type] += p.Amount
	}
	table.Render()

	for _, t := range payoutTypeOrder {
		if amt, ok := byType[t]; ok {
			fmt.Fprintf(c.out, "  %-20s %s\n", t, amt)
		}
	}
}

var payoutTypeOrder = []domain.PayoutType{
	domain.PayoutEntryPrize,
	domain.PayoutBetWinnings,
	domain.PayoutWithdrawalRefund,
	domain.PayoutWithdrawalPeekFee,
	domain.PayoutPlatformEntryFee,
	domain.PayoutPlatformBetFee,
	domain.PayoutEntryRefund,
	domain.PayoutBetRefund,
}
