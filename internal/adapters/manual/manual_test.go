package manual_test

import (
	"context"
	"testing"

	"github.com/alejandrodnm/arenaescrow/internal/adapters/manual"
	"github.com/alejandrodnm/arenaescrow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_ApproveFlow(t *testing.T) {
	v := manual.NewVerifier(false)
	ctx := context.Background()
	p := domain.Payment{Kind: domain.PaymentEntry, ChallengeID: "c1", Wallet: "w1", Amount: 1000, TxHash: "0xabc"}

	st, err := v.Verify(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, st)
	require.Len(t, v.Pending(), 1)
	assert.Equal(t, p, v.Pending()[0])

	v.Approve("0xabc")
	st, err = v.Verify(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentVerified, st)
	assert.Empty(t, v.Pending())
}

func TestVerifier_PendingKeepsFirstCaller(t *testing.T) {
	v := manual.NewVerifier(false)
	ctx := context.Background()
	first := domain.Payment{Kind: domain.PaymentEntry, Wallet: "victim", Amount: 1000, TxHash: "0xtx"}
	second := domain.Payment{Kind: domain.PaymentEntry, Wallet: "attacker", Amount: 1000, TxHash: "0xtx"}

	_, err := v.Verify(ctx, first)
	require.NoError(t, err)
	_, err = v.Verify(ctx, second)
	require.NoError(t, err)

	require.Len(t, v.Pending(), 1)
	assert.Equal(t, "victim", v.Pending()[0].Wallet)
}

func TestVerifier_RejectIsFinal(t *testing.T) {
	v := manual.NewVerifier(true)
	ctx := context.Background()
	p := domain.Payment{Kind: domain.PaymentBet, Wallet: "b1", Amount: 5, TxHash: "0xbad"}

	v.Reject("0xbad")
	st, err := v.Verify(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRejected, st, "reject wins over auto-approve")

	v.Approve("0xbad")
	st, err = v.Verify(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentVerified, st)
}

func TestVerifier_AutoApprove(t *testing.T) {
	st, err := manual.NewVerifier(true).Verify(context.Background(), domain.Payment{TxHash: "anything"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentVerified, st)
}

func TestVerifier_RejectsEmptyHash(t *testing.T) {
	_, err := manual.NewVerifier(false).Verify(context.Background(), domain.Payment{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestBalanceOracle(t *testing.T) {
	ctx := context.Background()

	open := manual.NewBalanceOracle()
	ok, _ := open.HasMinimumBalance(ctx, "anyone")
	assert.True(t, ok)

	o := manual.NewBalanceOracle("rich")
	ok, _ = o.HasMinimumBalance(ctx, "rich")
	assert.True(t, ok)
	ok, _ = o.HasMinimumBalance(ctx, "poor")
	assert.False(t, ok)

	open.Set("sybil", false)
	ok, _ = open.HasMinimumBalance(ctx, "sybil")
	assert.False(t, ok)
	ok, _ = open.HasMinimumBalance(ctx, "anyone")
	assert.True(t, ok)
}
