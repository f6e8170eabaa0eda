package core

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/defiweb/go-eth/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		value    *big.Int
		decimals uint8
		want     string
	}{
		{big.NewInt(1_500_000_000_000_000_000), 18, "1.5"},
		{big.NewInt(1_000_000_000_000_000_000), 18, "1.0"},
		{big.NewInt(1), 18, "0.000000000000000001"},
		{big.NewInt(0), 18, "0.0"},
		{nil, 18, "0.0"},
		{big.NewInt(123456), 0, "123456"},
		{big.NewInt(-1000), 0, "-1000"},
		{nil, 0, "0"},
		{big.NewInt(-2_500_000_000), 9, "-2.5"},
		{big.NewInt(1_000_100), 6, "1.0001"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUnits(tt.value, tt.decimals))
		})
	}
}

func TestUnitDecimals(t *testing.T) {
	d, err := UnitDecimals("gwei")
	require.NoError(t, err)
	assert.Equal(t, uint8(9), d)

	d, err = UnitDecimals("Ether")
	require.NoError(t, err)
	assert.Equal(t, uint8(18), d)

	_, err = UnitDecimals("szabo")
	assert.ErrorIs(t, err, ErrUnknownUnit)
}

func TestWaitForTxConfirmation(t *testing.T) {
	interval := TxConfirmationPollInterval
	TxConfirmationPollInterval = time.Millisecond
	defer func() { TxConfirmationPollInterval = interval }()

	_, err := WaitForTxConfirmation(context.Background(), nil, &testTxHash, time.Second)
	assert.Error(t, err)

	rpcClient := new(mockRpcClient)
	_, err = WaitForTxConfirmation(context.Background(), rpcClient, nil, time.Second)
	assert.Error(t, err)

	// Pending receipt until the timeout.
	call := rpcClient.On("GetTransactionReceipt", mock.Anything, testTxHash).
		Return(&types.TransactionReceipt{}, nil)
	_, err = WaitForTxConfirmation(context.Background(), rpcClient, &testTxHash, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	call.Unset()

	status := uint64(0)
	rpcClient.On("GetTransactionReceipt", mock.Anything, testTxHash).
		Return(nil, fmt.Errorf("not found")).Once()
	rpcClient.On("GetTransactionReceipt", mock.Anything, testTxHash).
		Return(&types.TransactionReceipt{TransactionHash: testTxHash, Status: &status}, nil)
	receipt, err := WaitForTxConfirmation(context.Background(), rpcClient, &testTxHash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), *receipt.Status)
}
