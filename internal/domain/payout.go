package domain

import (
	"math"
	"strconv"
	"time"
)

// Amount es un importe monetario en la unidad mínima (lamports, micro-USDC…).
// Nunca float: toda la aritmética es entera con floor.
type Amount int64

// Add suma con detección de overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func (a Amount) String() string {
	return strconv.FormatInt(int64(a), 10)
}

// PayoutType identifica la línea contable de un payout.
type PayoutType string

const (
	PayoutEntryPrize        PayoutType = "entry_prize"
	PayoutBetWinnings       PayoutType = "bet_winnings"
	PayoutWithdrawalRefund  PayoutType = "withdrawal_refund"
	PayoutWithdrawalPeekFee PayoutType = "withdrawal_peek_fee"
	PayoutPlatformEntryFee  PayoutType = "platform_entry_fee"
	PayoutPlatformBetFee    PayoutType = "platform_bet_fee"
	PayoutEntryRefund       PayoutType = "entry_refund" // challenge cancelado
	PayoutBetRefund         PayoutType = "bet_refund"   // challenge cancelado
)

// IsClaimType devuelve true para los tipos que solo emite Claim.
// Su existencia para (challenge, wallet) es la prueba de un claim anterior.
func (t PayoutType) IsClaimType() bool {
	switch t {
	case PayoutEntryPrize, PayoutBetWinnings, PayoutEntryRefund, PayoutBetRefund:
		return true
	}
	return false
}

// ClaimTypes son los tipos cubiertos por la guarda de idempotencia de Claim.
var ClaimTypes = []PayoutType{PayoutEntryPrize, PayoutBetWinnings, PayoutEntryRefund, PayoutBetRefund}

// PayoutStatus es el estado de ejecución de una obligación de pago.
// El motor solo escribe pending; la ejecución on-chain es externa.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
)

// Payout es un registro de auditoría append-only.
type Payout struct {
	ID              string
	ChallengeID     string
	RecipientWallet string
	Amount          Amount
	Type            PayoutType
	Status          PayoutStatus
	CreatedAt       time.Time
}

// PlanEntry es una fila del plan de liquidación materializado en Finalize.
type PlanEntry struct {
	ChallengeID string
	Wallet      string
	Type        PayoutType
	Amount      Amount
}

// Settlement es el resultado de Finalize.
type Settlement struct {
	ChallengeID   string
	WinnerAgentID string
	WinnerWallet  string
	WinnerVotes   int64
	EntryPool     Amount
	BetPool       Amount // solo apuestas verificadas
	Plan          []PlanEntry
	PlatformFees  []Payout
	FinalizedAt   time.Time
}

// ClaimResult es el resultado de un Claim.
type ClaimResult struct {
	ChallengeID string
	Wallet      string
	TotalPayout Amount
	Entries     []Payout
}

// WithdrawResult es el resultado de un Withdraw.
type WithdrawResult struct {
	RefundAmount Amount
	PeekFee      Amount
}
