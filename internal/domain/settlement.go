package domain

import (
	"math/big"
	"sort"
)

// Reparto de los pools, en porcentaje del pool antes de cualquier deducción.
const (
	EntryWinnerPct   = 95 // entry pool → dueño del agente ganador
	EntryCreatorPct  = 4  // entry pool → creador
	EntryPlatformPct = 1  // entry pool → plataforma
	BetWinnerPct     = 95 // bet pool → apostadores del ganador
	BetCreatorPct    = 2  // bet pool → creador
	BetPlatformPct   = 3  // bet pool → plataforma

	WithdrawRefundPct = 98 // entry fee devuelto en un withdraw; el resto es peek fee
)

// MulDiv calcula floor(a × b / c) con precisión completa.
// El producto intermedio puede no caber en int64; el resultado sí cuando b ≤ c.
func MulDiv(a, b, c int64) Amount {
	if c == 0 {
		return 0
	}
	x := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	x.Quo(x, big.NewInt(c))
	if !x.IsInt64() {
		return 0
	}
	return Amount(x.Int64())
}

// Pct devuelve floor(pool × pct / 100).
func Pct(pool Amount, pct int64) Amount {
	return MulDiv(int64(pool), pct, 100)
}

// WithdrawalSplit divide el entry fee en reembolso y peek fee.
//
//	refund  = floor(entryFee × 98 / 100)
//	peekFee = entryFee − refund
//
// El peek fee es el complemento, no un segundo floor: refund + peekFee == entryFee.
func WithdrawalSplit(entryFee Amount) (refund, peekFee Amount) {
	refund = Pct(entryFee, WithdrawRefundPct)
	return refund, entryFee - refund
}

// BettorShare calcula la parte pari-mutuel de una wallet.
//
//	share = betPool × 95 × walletBetTotal / (100 × winnerAgentBetTotal)
//
// Multiplica antes de dividir (big.Int) para no sesgar por truncamiento.
func BettorShare(betPool, walletTotal, winnerTotal Amount) Amount {
	if betPool <= 0 || walletTotal <= 0 || winnerTotal <= 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(int64(betPool)), big.NewInt(BetWinnerPct))
	num.Mul(num, big.NewInt(int64(walletTotal)))
	den := new(big.Int).Mul(big.NewInt(100), big.NewInt(int64(winnerTotal)))
	num.Quo(num, den)
	if !num.IsInt64() {
		return 0
	}
	return Amount(num.Int64())
}

// SelectWinner elige la inscripción viva con más votos.
// Desempate determinista: enrolledAt más antiguo, luego ID menor.
func SelectWinner(enrollments []Enrollment) (Enrollment, bool) {
	var best Enrollment
	found := false
	for _, e := range enrollments {
		if !e.IsLive() {
			continue
		}
		if !found || beats(e, best) {
			best = e
			found = true
		}
	}
	return best, found
}

func beats(a, b Enrollment) bool {
	if a.VoteCount != b.VoteCount {
		return a.VoteCount > b.VoteCount
	}
	if !a.EnrolledAt.Equal(b.EnrolledAt) {
		return a.EnrolledAt.Before(b.EnrolledAt)
	}
	return a.ID < b.ID
}

// PlanInput reúne lo que Finalize necesita para materializar el plan.
type PlanInput struct {
	ChallengeID    string
	CreatorWallet  string
	PlatformWallet string
	WinnerAgentID  string
	WinnerWallet   string
	EntryPool      Amount
	Bets           BetTotals
}

// BuildPlan calcula todas las obligaciones de un challenge completado.
//
//	ganador:     entryPool × 95/100                      → entry_prize
//	creador:     entryPool × 4/100 + betPool × 2/100     → entry_prize
//	apostadores: BettorShare por wallet sobre el ganador → bet_winnings
//	plataforma:  entryPool × 1/100 → platform_entry_fee, betPool × 3/100 → platform_bet_fee
//
// Las líneas con la misma (wallet, tipo) se suman en una sola. Los restos del
// floor quedan en escrow.
func BuildPlan(in PlanInput) (plan []PlanEntry, platform []PlanEntry) {
	acc := make(map[planKey]Amount)
	add := func(wallet string, t PayoutType, amt Amount) {
		if amt <= 0 || wallet == "" {
			return
		}
		acc[planKey{wallet, t}] += amt
	}

	add(in.WinnerWallet, PayoutEntryPrize, Pct(in.EntryPool, EntryWinnerPct))
	add(in.CreatorWallet, PayoutEntryPrize,
		Pct(in.EntryPool, EntryCreatorPct)+Pct(in.Bets.Pool, BetCreatorPct))

	winnerTotal := in.Bets.ByAgent[in.WinnerAgentID]
	for wallet, total := range in.Bets.ByWallet[in.WinnerAgentID] {
		add(wallet, PayoutBetWinnings, BettorShare(in.Bets.Pool, total, winnerTotal))
	}

	for k, amt := range acc {
		plan = append(plan, PlanEntry{ChallengeID: in.ChallengeID, Wallet: k.wallet, Type: k.typ, Amount: amt})
	}
	sortPlan(plan)

	if fee := Pct(in.EntryPool, EntryPlatformPct); fee > 0 {
		platform = append(platform, PlanEntry{ChallengeID: in.ChallengeID, Wallet: in.PlatformWallet, Type: PayoutPlatformEntryFee, Amount: fee})
	}
	if fee := Pct(in.Bets.Pool, BetPlatformPct); fee > 0 {
		platform = append(platform, PlanEntry{ChallengeID: in.ChallengeID, Wallet: in.PlatformWallet, Type: PayoutPlatformBetFee, Amount: fee})
	}
	return plan, platform
}

// CancelRefunds calcula el reembolso de una wallet en un challenge cancelado:
// el entry fee si tiene una inscripción viva con el pago verificado, más sus
// apuestas verificadas.
func CancelRefunds(c Challenge, wallet string, enrollment *Enrollment, betTotal Amount) []PlanEntry {
	var out []PlanEntry
	if enrollment != nil && enrollment.IsFunded() {
		out = append(out, PlanEntry{ChallengeID: c.ID, Wallet: wallet, Type: PayoutEntryRefund, Amount: c.EntryFee})
	}
	if betTotal > 0 {
		out = append(out, PlanEntry{ChallengeID: c.ID, Wallet: wallet, Type: PayoutBetRefund, Amount: betTotal})
	}
	return out
}

type planKey struct {
	wallet string
	typ    PayoutType
}

func sortPlan(plan []PlanEntry) {
	sort.Slice(plan, func(i, j int) bool {
		if plan[i].Wallet != plan[j].Wallet {
			return plan[i].Wallet < plan[j].Wallet
		}
		return plan[i].Type < plan[j].Type
	})
}
