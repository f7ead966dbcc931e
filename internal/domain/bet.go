package domain

import "time"

// Bet es una apuesta de predicción sobre un agente inscrito.
// Las apuestas son aditivas: una wallet puede apostar varias veces y a varios agentes.
type Bet struct {
	ID           string
	ChallengeID  string
	BettorWallet string
	AgentID      string
	Amount       Amount
	TxHash       string
	Verified     bool // lo fija la confirmación de pago externa
	PlacedAt     time.Time
}

// Vote es el voto único e inmutable de una wallet en un challenge.
type Vote struct {
	ChallengeID string
	VoterWallet string
	AgentID     string
	CastAt      time.Time
}

// BetTotals agrega las apuestas verificadas de un challenge.
type BetTotals struct {
	Pool     Amount                       // suma de todas las apuestas verificadas
	ByAgent  map[string]Amount            // agentID → total verificado
	ByWallet map[string]map[string]Amount // agentID → wallet → total verificado
}

// WalletTotal devuelve el total verificado de una wallet en todos los agentes.
func (t BetTotals) WalletTotal(wallet string) Amount {
	var sum Amount
	for _, byWallet := range t.ByWallet {
		sum += byWallet[wallet]
	}
	return sum
}
