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
	"context"
	"fmt"
	"time"

	"github.com/defiweb/go-eth/abi"
	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

var TxConfirmationTimeout = 5 * time.Minute

// PrepareWriteContract builds the transaction for a contract write and
// validates it with a call against the latest block. The result is meant to
// be passed as Prepared{Request: tx}.
func PrepareWriteContract(
	ctx context.Context,
	client *Client,
	args PrepareWriteContractArgs,
) (*types.Transaction, error) {
	provider, err := client.Provider(args.ChainID)
	if err != nil {
		return nil, err
	}

	tx, err := buildWriteTransaction(args.Address, args.ABI, args.FunctionName, args.Args, args.Overrides)
	if err != nil {
		return nil, err
	}
	if args.ChainID != 0 {
		chainID := args.ChainID
		tx.ChainID = &chainID
	}
	if tx.From == nil {
		if account := client.Store().Get().Account; account != nil {
			from := *account
			tx.From = &from
		}
	}

	// A reverting call means the write would fail as well.
	_, _, err = provider.Call(ctx, tx.Call, types.LatestBlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to simulate %s on %v: %w", args.FunctionName, args.Address, err)
	}

	logger.
		WithField("address", args.Address).
		WithField("function", args.FunctionName).
		Debugf("write prepared")

	return tx, nil
}

// WriteContract sends a contract write. Prepared writes send their request as
// is, unprepared ones are encoded on the fly.
func WriteContract(ctx context.Context, client *Client, args WriteContractArgs) (*WriteContractResult, error) {
	if err := validateMode(args.Mode); err != nil {
		return nil, err
	}
	if err := checkActiveChain(client, args.ChainID); err != nil {
		return nil, err
	}
	provider, err := client.Provider(args.ChainID)
	if err != nil {
		return nil, err
	}

	var tx *types.Transaction
	switch mode := args.Mode.(type) {
	case Prepared:
		if mode.Request == nil {
			return nil, ErrRequestNotPrepared
		}
		cp := *mode.Request
		tx = &cp
	case DangerouslyUnprepared:
		tx, err = buildWriteTransaction(args.Address, args.ABI, args.FunctionName, args.Args, args.Overrides)
		if err != nil {
			return nil, err
		}
		if args.ChainID != 0 {
			chainID := args.ChainID
			tx.ChainID = &chainID
		}
	default:
		return nil, fmt.Errorf("%w: unsupported mode %T", ErrInvalidMode, args.Mode)
	}

	hash, sent, err := provider.SendTransaction(ctx, *tx)
	if err != nil {
		ErrorsCounter.WithLabelValues(args.Address.String(), "writeContract", err.Error()).Inc()
		return nil, fmt.Errorf("failed to send %s transaction: %w", args.FunctionName, err)
	}
	if hash == nil {
		return nil, fmt.Errorf("failed to send %s transaction: empty hash", args.FunctionName)
	}
	if sent == nil {
		sent = tx
	}

	WriteCounter.WithLabelValues(args.Address.String(), args.FunctionName, ModeName(args.Mode)).Inc()
	logger.
		WithField("address", args.Address).
		WithField("function", args.FunctionName).
		WithField("mode", ModeName(args.Mode)).
		WithField("txHash", hash).
		Infof("write transaction sent")

	return &WriteContractResult{
		Hash:        *hash,
		Transaction: sent,
		client:      provider,
	}, nil
}

// Wait blocks until the transaction is mined or TxConfirmationTimeout passes.
func (r *WriteContractResult) Wait(ctx context.Context) (*types.TransactionReceipt, error) {
	return WaitForTxConfirmation(ctx, r.client, &r.Hash, TxConfirmationTimeout)
}

func checkActiveChain(client *Client, chainID uint64) error {
	if chainID == 0 {
		return nil
	}
	active := client.Store().Get().Chain
	if active == nil || active.ID == chainID {
		return nil
	}
	return &ChainMismatchError{ActiveChainID: active.ID, TargetChainID: chainID}
}

func buildWriteTransaction(
	address types.Address,
	contract *abi.Contract,
	functionName string,
	args []any,
	overrides *Overrides,
) (*types.Transaction, error) {
	if contract == nil {
		return nil, fmt.Errorf("%w: %s (no contract interface)", ErrUnknownFunction, functionName)
	}
	method, ok := contract.Methods[functionName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, functionName)
	}
	calldata, err := method.EncodeArgs(args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s args: %w", functionName, err)
	}

	tx := (&types.Transaction{}).
		SetTo(address).
		SetInput(calldata)
	applyOverrides(tx, overrides)
	return tx, nil
}

func applyOverrides(tx *types.Transaction, o *Overrides) {
	if o == nil {
		return
	}
	if o.From != nil {
		from := *o.From
		tx.From = &from
	}
	if o.Value != nil {
		tx.Value = o.Value
	}
	if o.GasLimit != nil {
		tx.SetGasLimit(*o.GasLimit)
	}
	if o.GasPrice != nil {
		tx.GasPrice = o.GasPrice
	}
	if o.MaxFeePerGas != nil {
		tx.MaxFeePerGas = o.MaxFeePerGas
	}
	if o.MaxPriorityFeePerGas != nil {
		tx.MaxPriorityFeePerGas = o.MaxPriorityFeePerGas
	}
	if o.Nonce != nil {
		nonce := *o.Nonce
		tx.Nonce = &nonce
	}
}
