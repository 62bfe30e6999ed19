package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-gateway/internal/ledger"
)

func TestBank_TransferBatchIsAtomic(t *testing.T) {
	bank := NewBank()
	require.NoError(t, bank.Mint("alice", 100))

	err := bank.TransferBatch(context.Background(), []ledger.Leg{
		{From: "alice", To: "merchant", Amount: 80},
		{From: "alice", To: "platform", Amount: 30},
	})

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, uint64(100), bank.Balance("alice"))
	assert.Zero(t, bank.Balance("merchant"))
	assert.Empty(t, bank.History())
}

func TestBank_TransferBatch(t *testing.T) {
	bank := NewBank()
	require.NoError(t, bank.Mint("alice", 100))

	legs := []ledger.Leg{
		{From: "alice", To: "merchant", Amount: 75},
		{From: "alice", To: "platform", Amount: 25},
	}
	require.NoError(t, bank.TransferBatch(context.Background(), legs))

	assert.Zero(t, bank.Balance("alice"))
	assert.Equal(t, uint64(75), bank.Balance("merchant"))
	assert.Equal(t, uint64(25), bank.Balance("platform"))
	assert.Equal(t, legs, bank.History())
}

func TestBank_RejectsInvalidLegs(t *testing.T) {
	bank := NewBank()
	require.NoError(t, bank.Mint("alice", 10))

	assert.ErrorIs(t, bank.Transfer(context.Background(), ledger.Leg{From: "alice", To: "alice", Amount: 1}), ErrInvalidLeg)
	assert.ErrorIs(t, bank.Transfer(context.Background(), ledger.Leg{From: "", To: "bob", Amount: 1}), ErrInvalidLeg)
}

func TestBank_MintOverflow(t *testing.T) {
	bank := NewBank()
	require.NoError(t, bank.Mint("alice", ^uint64(0)))
	assert.ErrorIs(t, bank.Mint("alice", 1), ErrBalanceOverflow)
}
