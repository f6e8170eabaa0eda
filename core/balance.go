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

	"github.com/defiweb/go-eth/abi"
	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

var (
	erc20BalanceOf     = abi.MustParseMethod("balanceOf(address)(uint256)")
	erc20Decimals      = abi.MustParseMethod("decimals()(uint8)")
	erc20Symbol        = abi.MustParseMethod("symbol()(string)")
	erc20SymbolBytes32 = abi.MustParseMethod("symbol()(bytes32)")
)

// FetchBalance returns the native or ERC-20 balance of args.Address.
func FetchBalance(ctx context.Context, client *Client, args FetchBalanceArgs) (*FetchBalanceResult, error) {
	provider, err := client.Provider(args.ChainID)
	if err != nil {
		return nil, err
	}

	var result *FetchBalanceResult
	if args.Token != nil {
		result, err = fetchTokenBalance(ctx, provider, *args.Token, args.Address)
	} else {
		result, err = fetchNativeBalance(ctx, client, provider, args)
	}
	if err != nil {
		ErrorsCounter.WithLabelValues(args.Address.String(), "fetchBalance", err.Error()).Inc()
		return nil, err
	}

	decimals := result.Decimals
	if args.FormatUnits != "" {
		decimals, err = UnitDecimals(args.FormatUnits)
		if err != nil {
			return nil, err
		}
	}
	result.Formatted = FormatUnits(result.Value, decimals)

	logger.
		WithField("address", args.Address).
		Debugf("fetched balance %s %s", result.Formatted, result.Symbol)
	return result, nil
}

func fetchNativeBalance(
	ctx context.Context,
	client *Client,
	provider RpcClient,
	args FetchBalanceArgs,
) (*FetchBalanceResult, error) {
	value, err := provider.GetBalance(ctx, args.Address, types.LatestBlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance of %v: %w", args.Address, err)
	}

	chainID := args.ChainID
	if chainID == 0 {
		if chain := client.Store().Get().Chain; chain != nil {
			chainID = chain.ID
		}
	}
	return &FetchBalanceResult{
		Decimals: 18,
		Symbol:   nativeSymbol(chainID),
		Value:    value,
	}, nil
}

func fetchTokenBalance(
	ctx context.Context,
	provider RpcClient,
	token types.Address,
	holder types.Address,
) (*FetchBalanceResult, error) {
	var value *big.Int
	if err := callToken(ctx, provider, token, erc20BalanceOf, []any{holder}, &value); err != nil {
		return nil, err
	}

	var decimals uint8
	if err := callToken(ctx, provider, token, erc20Decimals, nil, &decimals); err != nil {
		return nil, err
	}

	symbol, err := fetchTokenSymbol(ctx, provider, token)
	if err != nil {
		return nil, err
	}

	return &FetchBalanceResult{
		Decimals: decimals,
		Symbol:   symbol,
		Value:    value,
	}, nil
}

// fetchTokenSymbol supports both string and bytes32 symbols, some older
// tokens return the latter.
func fetchTokenSymbol(ctx context.Context, provider RpcClient, token types.Address) (string, error) {
	var symbol string
	err := callToken(ctx, provider, token, erc20Symbol, nil, &symbol)
	if err == nil {
		return symbol, nil
	}

	var raw [32]byte
	if err := callToken(ctx, provider, token, erc20SymbolBytes32, nil, &raw); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(raw[:], "\x00")), nil
}

func callToken(
	ctx context.Context,
	provider RpcClient,
	token types.Address,
	method *abi.Method,
	args []any,
	result any,
) error {
	calldata, err := method.EncodeArgs(args...)
	if err != nil {
		return fmt.Errorf("failed to encode %s args: %w", method.Name(), err)
	}
	b, _, err := provider.Call(ctx, types.Call{
		To:    &token,
		Input: calldata,
	}, types.LatestBlockNumber)
	if err != nil {
		return fmt.Errorf("failed to call %s on %v: %w", method.Name(), token, err)
	}

	// Decode the result.
	if err := method.DecodeValues(b, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method.Name(), err)
	}
	return nil
}
