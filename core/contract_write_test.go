//  Copyright (C) 2021-2023 Chronicle Labs, Inc.
//
//  This program is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Affero General Public License as
//  published by the Free Software Foundation, either version 3 of the
//  License, or (at your option) any later version.
//
//  This program is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Affero General Public License for more details.
//
//  You should have received a copy of the GNU Affero General Public License
//  along with this program.  If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/defiweb/go-eth/abi"
	"github.com/defiweb/go-eth/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTokenABI = abi.MustParseJSON([]byte(`[
	{
		"type": "function",
		"name": "transfer",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "approve",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	}
]`))

var (
	testToken     = types.MustAddressFromHex("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	testRecipient = types.MustAddressFromHex("0x1F7acDa376eF37EC371235a094113dF9Cb4EfEe1")
	testTxHash    = types.MustHashFromHex("0xac50cef58b3aef7f7c30349f5e4a342a29d2325a02eafc8dacfdba391e6d5db3", types.PadNone)
)

func transferCalldata(t *testing.T, args ...any) []byte {
	calldata, err := testTokenABI.Methods["transfer"].EncodeArgs(args...)
	require.NoError(t, err)
	return calldata
}

func txWithInput(input []byte) any {
	return mock.MatchedBy(func(tx types.Transaction) bool {
		return bytes.Equal(tx.Input, input)
	})
}

func baseWriteConfig(mode Mode) ContractWriteConfig {
	return ContractWriteConfig{
		Address:      testToken,
		ABI:          testTokenABI,
		FunctionName: "transfer",
		Args:         []any{testRecipient, big.NewInt(100)},
		Mode:         mode,
	}
}

func TestContractWritePreparedWithoutRequestIsDisabled(t *testing.T) {
	client := NewClient(nil, new(mockRpcClient))

	w, err := NewContractWrite(client, baseWriteConfig(Prepared{}))
	require.NoError(t, err)
	assert.Nil(t, w.Write())
	assert.Nil(t, w.WriteAsync())
	assert.True(t, w.State().IsIdle())

	// Other parameters do not matter.
	cfg := baseWriteConfig(Prepared{Request: nil})
	cfg.ChainID = 1
	cfg.Overrides = &Overrides{Value: big.NewInt(1)}
	cfg.Args = nil
	w, err = NewContractWrite(client, cfg)
	require.NoError(t, err)
	assert.Nil(t, w.Write())
	assert.Nil(t, w.WriteAsync())

	w, err = NewContractWrite(client, baseWriteConfig(DangerouslyUnprepared{}))
	require.NoError(t, err)
	assert.NotNil(t, w.Write())
	assert.NotNil(t, w.WriteAsync())
}

func TestContractWriteRejectsInvalidMode(t *testing.T) {
	client := NewClient(nil, new(mockRpcClient))

	_, err := NewContractWrite(client, baseWriteConfig(nil))
	assert.ErrorIs(t, err, ErrInvalidMode)

	// Pointer modes are rejected up front, a prepared write without a
	// request must never hand out write functions.
	for _, mode := range []Mode{&Prepared{}, &Prepared{Request: &types.Transaction{}}, &DangerouslyUnprepared{}} {
		w, err := NewContractWrite(client, baseWriteConfig(mode))
		assert.ErrorIs(t, err, ErrInvalidMode, "%T", mode)
		assert.Nil(t, w)
	}

	_, err = NewContractWrite(nil, baseWriteConfig(DangerouslyUnprepared{}))
	assert.Error(t, err)
}

func TestContractWritePreparedSendsRequest(t *testing.T) {
	rpcClient := new(mockRpcClient)
	client := NewClient(nil, rpcClient)

	request := (&types.Transaction{}).
		SetTo(testToken).
		SetInput(transferCalldata(t, testRecipient, big.NewInt(100)))
	sendCall := rpcClient.On("SendTransaction", mock.Anything, txWithInput(request.Input)).
		Return(&testTxHash, request, nil)

	var settled []error
	cfg := baseWriteConfig(Prepared{Request: request})
	cfg.Callbacks.OnSettled = func(_ *WriteContractResult, err error, _ WriteContractArgs) {
		settled = append(settled, err)
	}
	w, err := NewContractWrite(client, cfg)
	require.NoError(t, err)

	var statuses []MutationStatus
	unsubscribe := w.Subscribe(func(s ContractWriteState) {
		statuses = append(statuses, s.Status)
	})
	defer unsubscribe()

	writeAsync := w.WriteAsync()
	require.NotNil(t, writeAsync)
	result, err := writeAsync(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, testTxHash, result.Hash)
	assert.Equal(t, []MutationStatus{StatusLoading, StatusSuccess}, statuses)
	assert.Equal(t, []error{nil}, settled)

	state := w.State()
	assert.True(t, state.IsSuccess())
	assert.Equal(t, result, state.Data)
	require.NotNil(t, state.Variables)
	assert.Equal(t, Prepared{Request: request}, state.Variables.Mode)

	rpcClient.AssertExpectations(t)
	sendCall.Unset()
}

func TestContractWriteOverridesForceUnprepared(t *testing.T) {
	rpcClient := new(mockRpcClient)
	client := NewClient(nil, rpcClient)

	request := (&types.Transaction{}).
		SetTo(testToken).
		SetInput(transferCalldata(t, testRecipient, big.NewInt(100)))
	overridden := transferCalldata(t, testRecipient, big.NewInt(5))
	rpcClient.On("SendTransaction", mock.Anything, txWithInput(overridden)).
		Return(&testTxHash, nil, nil)

	w, err := NewContractWrite(client, baseWriteConfig(Prepared{Request: request}))
	require.NoError(t, err)

	write := w.Write()
	require.NotNil(t, write)
	write(context.Background(), &WriteOverrides{
		DangerouslySetArgs: []any{testRecipient, big.NewInt(5)},
	})
	require.Eventually(t, func() bool { return w.State().IsSuccess() }, time.Second, time.Millisecond)

	state := w.State()
	require.NotNil(t, state.Variables)
	assert.Equal(t, DangerouslyUnprepared{}, state.Variables.Mode)
	assert.Equal(t, []any{testRecipient, big.NewInt(5)}, state.Variables.Args)
	assert.Equal(t, testTxHash, state.Data.Hash)
	rpcClient.AssertExpectations(t)
}

func TestContractWriteFailure(t *testing.T) {
	rpcClient := new(mockRpcClient)
	client := NewClient(nil, rpcClient)
	rpcClient.On("SendTransaction", mock.Anything, mock.Anything).
		Return(nil, nil, fmt.Errorf("insufficient funds"))

	var onError error
	cfg := baseWriteConfig(DangerouslyUnprepared{})
	cfg.Callbacks.OnError = func(err error, _ WriteContractArgs) {
		onError = err
	}
	w, err := NewContractWrite(client, cfg)
	require.NoError(t, err)

	_, err = w.WriteAsync()(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "insufficient funds")
	assert.Equal(t, err, onError)
	assert.True(t, w.State().IsError())
	assert.Equal(t, err, w.State().Err)

	w.Reset()
	assert.True(t, w.State().IsIdle())
	assert.NoError(t, w.State().Err)
}

func TestMergeWriteArgs(t *testing.T) {
	request := (&types.Transaction{}).SetTo(testToken)
	gasLimit := uint64(100000)
	base := WriteContractArgs{
		Address:      testToken,
		ChainID:      1,
		ABI:          testTokenABI,
		FunctionName: "transfer",
		Args:         []any{testRecipient, big.NewInt(1)},
		Overrides:    &Overrides{GasLimit: &gasLimit},
		Mode:         Prepared{Request: request},
	}

	t.Run("no overrides keeps base", func(t *testing.T) {
		assert.Equal(t, base, MergeWriteArgs(base, nil))
	})

	t.Run("empty overrides only switch mode", func(t *testing.T) {
		merged := MergeWriteArgs(base, &WriteOverrides{})
		assert.Equal(t, DangerouslyUnprepared{}, merged.Mode)
		assert.Equal(t, base.Args, merged.Args)
		assert.Equal(t, base.Overrides, merged.Overrides)
	})

	t.Run("args and overrides replaced", func(t *testing.T) {
		value := &Overrides{Value: big.NewInt(7)}
		merged := MergeWriteArgs(base, &WriteOverrides{
			DangerouslySetArgs:      []any{testRecipient, big.NewInt(2)},
			DangerouslySetOverrides: value,
		})
		assert.Equal(t, []any{testRecipient, big.NewInt(2)}, merged.Args)
		assert.Same(t, value, merged.Overrides)
		assert.Equal(t, DangerouslyUnprepared{}, merged.Mode)
		assert.Equal(t, base.Address, merged.Address)
		assert.Equal(t, base.ChainID, merged.ChainID)
		assert.Equal(t, base.FunctionName, merged.FunctionName)
	})

	t.Run("unprepared base stays unprepared", func(t *testing.T) {
		unprepared := base
		unprepared.Mode = DangerouslyUnprepared{}
		merged := MergeWriteArgs(unprepared, &WriteOverrides{DangerouslySetArgs: []any{}})
		assert.Equal(t, DangerouslyUnprepared{}, merged.Mode)
		assert.Equal(t, []any{}, merged.Args)
	})
}

func TestWriteMutationKey(t *testing.T) {
	args := WriteContractArgs{
		Address:      testToken,
		ChainID:      1,
		ABI:          testTokenABI,
		FunctionName: "transfer",
		Args:         []any{testRecipient, big.NewInt(1)},
		Mode:         DangerouslyUnprepared{},
	}
	key := WriteMutationKey(args)
	assert.Regexp(t, "^writeContract:0x[0-9a-f]{64}$", key)
	assert.Equal(t, key, WriteMutationKey(args))

	other := args
	other.Args = []any{testRecipient, big.NewInt(2)}
	assert.NotEqual(t, key, WriteMutationKey(other))

	other = args
	other.FunctionName = "approve"
	assert.NotEqual(t, key, WriteMutationKey(other))

	other = args
	other.Mode = Prepared{Request: (&types.Transaction{}).SetTo(testToken)}
	assert.NotEqual(t, key, WriteMutationKey(other))

	// Unmarshalable args still yield a key.
	other = args
	other.Args = []any{make(chan int)}
	assert.Regexp(t, "^writeContract:0x", WriteMutationKey(other))
}

func TestContractWritesShareCacheByKey(t *testing.T) {
	rpcClient := new(mockRpcClient)
	client := NewClient(nil, rpcClient)
	rpcClient.On("SendTransaction", mock.Anything, mock.Anything).
		Return(&testTxHash, nil, nil)

	a, err := NewContractWrite(client, baseWriteConfig(DangerouslyUnprepared{}))
	require.NoError(t, err)
	b, err := NewContractWrite(client, baseWriteConfig(DangerouslyUnprepared{}))
	require.NoError(t, err)
	require.Equal(t, a.Key(), b.Key())

	_, err = a.WriteAsync()(context.Background(), nil)
	require.NoError(t, err)
	_, err = b.WriteAsync()(context.Background(), nil)
	require.NoError(t, err)

	r, ok := client.MutationCache().Get(a.Key())
	require.True(t, ok)
	assert.Equal(t, uint64(2), r.Executions)
	assert.Equal(t, uint64(2), r.Successes)
}
