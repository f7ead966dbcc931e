package onchain

// escrow.go — verificación de pagos contra una cadena EVM.
//
// El motor nunca firma ni envía transacciones: solo lee.
//   - El adaptador no guarda nada: el pago esperado (wallet, importe) llega
//     en cada llamada, construido desde el ledger.
//   - Una transacción ya visible (aunque esté en el mempool) que va a otro
//     destino, con otro valor o desde otra wallet se rechaza de forma
//     definitiva. Un receipt revertido también.
//   - Un pago está verificado cuando además su receipt es exitoso y tiene al
//     menos Confirmations bloques encima.
//   - El balance anti-sybil es BalanceAt en el último bloque.

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
	"github.com/alejandrodnm/arenaescrow/internal/ports"
)

const (
	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
)

// ChainReader es el subconjunto de ethclient.Client que usa el adaptador.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config parametriza el adaptador.
type Config struct {
	EscrowAddress  string   // destino obligatorio de entradas y apuestas
	Confirmations  uint64   // bloques encima del receipt
	MinVoteBalance *big.Int // wei; nil o 0 desactiva el check
	RPS            float64  // límite de llamadas RPC por segundo
}

// Client implementa ports.PaymentVerifier y ports.BalanceOracle sobre una cadena EVM.
type Client struct {
	reader  ChainReader
	cfg     Config
	escrow  common.Address
	limiter *rate.Limiter
	sleep   func(ctx context.Context, attempt int)
}

var (
	_ ports.PaymentVerifier = (*Client)(nil)
	_ ports.BalanceOracle   = (*Client)(nil)
)

// Dial conecta al RPC y devuelve un Client listo.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Client, *ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("onchain.Dial: dial rpc %s: %w", rpcURL, err)
	}
	c, err := NewClient(ec, cfg)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return c, ec, nil
}

// NewClient construye el adaptador sobre un ChainReader ya conectado.
func NewClient(reader ChainReader, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.EscrowAddress) {
		return nil, fmt.Errorf("onchain.NewClient: invalid escrow address %q", cfg.EscrowAddress)
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		reader:  reader,
		cfg:     cfg,
		escrow:  common.HexToAddress(cfg.EscrowAddress),
		limiter: rate.NewLimiter(rate.Limit(rps), int(math.Ceil(rps))),
		sleep:   backoff,
	}, nil
}

// Verify compara la transacción p.TxHash con el pago esperado.
func (c *Client) Verify(ctx context.Context, p domain.Payment) (domain.PaymentStatus, error) {
	hash, err := parseHash(p.TxHash)
	if err != nil {
		return domain.PaymentPending, err
	}
	if p.Amount <= 0 || !common.IsHexAddress(p.Wallet) {
		slog.Info("onchain: payment rejected", "tx", p.TxHash, "reason", "payer is not an address", "wallet", p.Wallet)
		return domain.PaymentRejected, nil
	}

	var (
		tx      *types.Transaction
		pending bool
	)
	err = c.call(ctx, "transaction", func() error {
		var err error
		tx, pending, err = c.reader.TransactionByHash(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return domain.PaymentPending, nil
	}
	if err != nil {
		return domain.PaymentPending, err
	}
	if reason := c.mismatch(tx, p); reason != "" {
		slog.Info("onchain: payment rejected", "tx", p.TxHash, "kind", p.Kind, "ref", p.RefID, "reason", reason)
		return domain.PaymentRejected, nil
	}
	if pending {
		return domain.PaymentPending, nil
	}

	var receipt *types.Receipt
	err = c.call(ctx, "receipt", func() error {
		var err error
		receipt, err = c.reader.TransactionReceipt(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return domain.PaymentPending, nil
	}
	if err != nil {
		return domain.PaymentPending, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		slog.Info("onchain: payment rejected", "tx", p.TxHash, "kind", p.Kind, "ref", p.RefID, "reason", "reverted")
		return domain.PaymentRejected, nil
	}

	var head uint64
	if err := c.call(ctx, "block number", func() error {
		var err error
		head, err = c.reader.BlockNumber(ctx)
		return err
	}); err != nil {
		return domain.PaymentPending, err
	}
	if receipt.BlockNumber == nil || head < receipt.BlockNumber.Uint64()+c.cfg.Confirmations {
		return domain.PaymentPending, nil
	}
	return domain.PaymentVerified, nil
}

// HasMinimumBalance compara el balance actual de la wallet con MinVoteBalance.
func (c *Client) HasMinimumBalance(ctx context.Context, wallet string) (bool, error) {
	if c.cfg.MinVoteBalance == nil || c.cfg.MinVoteBalance.Sign() <= 0 {
		return true, nil
	}
	if !common.IsHexAddress(wallet) {
		return false, nil
	}

	var bal *big.Int
	if err := c.call(ctx, "balance", func() error {
		var err error
		bal, err = c.reader.BalanceAt(ctx, common.HexToAddress(wallet), nil)
		return err
	}); err != nil {
		return false, err
	}
	return bal.Cmp(c.cfg.MinVoteBalance) >= 0, nil
}

// mismatch devuelve por qué tx no puede respaldar p, o "" si puede.
func (c *Client) mismatch(tx *types.Transaction, p domain.Payment) string {
	if tx.To() == nil || *tx.To() != c.escrow {
		return "wrong recipient"
	}
	if tx.Value().Cmp(big.NewInt(int64(p.Amount))) != 0 {
		return fmt.Sprintf("value %s, want %d", tx.Value(), p.Amount)
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "unrecoverable sender"
	}
	if from != common.HexToAddress(p.Wallet) {
		return "sender " + from.Hex() + " is not " + p.Wallet
	}
	return ""
}

// call aplica el rate limit y reintenta errores transitorios con backoff.
// ethereum.NotFound es definitivo y no se reintenta.
func (c *Client) call(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return fmt.Errorf("onchain: rate limiter: %w", werr)
		}
		err = fn()
		if err == nil || errors.Is(err, ethereum.NotFound) {
			return err
		}
		if ctx.Err() != nil || attempt == maxRetries {
			break
		}
		slog.Warn("onchain: rpc call failed, retrying", "call", what, "attempt", attempt+1, "err", err)
		c.sleep(ctx, attempt)
	}
	return fmt.Errorf("onchain: %s failed after %d retries: %w", what, maxRetries, err)
}

// backoff espera con crecimiento exponencial, respetando el contexto.
func backoff(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func parseHash(s string) (common.Hash, error) {
	raw := strings.TrimPrefix(s, "0x")
	if len(raw) != 2*common.HashLength {
		return common.Hash{}, domain.ErrInvalidRequest
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return common.Hash{}, domain.ErrInvalidRequest
	}
	return common.HexToHash(s), nil
}
