package domain

// PaymentKind distingue qué registro respalda un pago.
type PaymentKind string

const (
	PaymentEntry PaymentKind = "entry"
	PaymentBet   PaymentKind = "bet"
)

// Payment es lo que una transacción tiene que cumplir para respaldar una
// inscripción o una apuesta. Se construye siempre desde el registro del
// ledger (wallet inscrita y entry fee, o apostador e importe), nunca desde
// estado del verificador.
type Payment struct {
	Kind        PaymentKind
	ChallengeID string
	RefID       string // enrollment o bet; vacío antes del insert
	Wallet      string
	Amount      Amount
	TxHash      string
}

// PaymentStatus es el resultado de verificar un Payment.
type PaymentStatus int

const (
	// PaymentPending: la transacción aún no existe o no tiene confirmaciones suficientes.
	PaymentPending PaymentStatus = iota
	// PaymentVerified: confirmada, al escrow, con el importe y el emisor esperados.
	PaymentVerified
	// PaymentRejected: revertida, a otro destino, o con importe o emisor distintos. Es definitivo.
	PaymentRejected
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentVerified:
		return "verified"
	case PaymentRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// EntryPaymentFor construye el pago esperado de una inscripción.
func EntryPaymentFor(e Enrollment, entryFee Amount) Payment {
	return Payment{
		Kind:        PaymentEntry,
		ChallengeID: e.ChallengeID,
		RefID:       e.ID,
		Wallet:      e.OwnerWallet,
		Amount:      entryFee,
		TxHash:      e.EntryTxHash,
	}
}

// BetPaymentFor construye el pago esperado de una apuesta.
func BetPaymentFor(b Bet) Payment {
	return Payment{
		Kind:        PaymentBet,
		ChallengeID: b.ChallengeID,
		RefID:       b.ID,
		Wallet:      b.BettorWallet,
		Amount:      b.Amount,
		TxHash:      b.TxHash,
	}
}

// FundedEntryPool es el entry pool que se reparte: entryFee por cada
// inscripción viva con el pago verificado.
func FundedEntryPool(enrollments []Enrollment, entryFee Amount) (Amount, error) {
	var pool Amount
	for _, e := range enrollments {
		if !e.IsFunded() {
			continue
		}
		var err error
		if pool, err = pool.Add(entryFee); err != nil {
			return 0, err
		}
	}
	return pool, nil
}
