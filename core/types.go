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
	"errors"
	"fmt"
	"math/big"

	"github.com/defiweb/go-eth/abi"
	"github.com/defiweb/go-eth/types"
)

var (
	ErrInvalidMode        = errors.New("invalid write mode")
	ErrRequestNotPrepared = errors.New("prepared write has no request")
	ErrUnknownFunction    = errors.New("function not found in contract interface")
	ErrUnknownUnit        = errors.New("unknown unit")
)

type Chain struct {
	ID          uint64
	Name        string
	Unsupported bool
}

func (c *Chain) String() string {
	if c == nil {
		return "<nil>"
	}
	if c.Name == "" {
		return fmt.Sprintf("chain %d", c.ID)
	}
	return fmt.Sprintf("%s (%d)", c.Name, c.ID)
}

// knownChains maps chain ids to display names and native currency symbols.
var knownChains = map[uint64]struct{ name, symbol string }{
	1:        {"Ethereum", "ETH"},
	5:        {"Goerli", "ETH"},
	10:       {"Optimism", "ETH"},
	56:       {"BNB Smart Chain", "BNB"},
	100:      {"Gnosis", "xDAI"},
	137:      {"Polygon", "MATIC"},
	8453:     {"Base", "ETH"},
	42161:    {"Arbitrum One", "ETH"},
	43114:    {"Avalanche", "AVAX"},
	11155111: {"Sepolia", "ETH"},
}

// ChainFromID builds a Chain for the given id. Ids outside of the known set
// are flagged as unsupported.
func ChainFromID(id uint64) *Chain {
	known, ok := knownChains[id]
	return &Chain{ID: id, Name: known.name, Unsupported: !ok}
}

func nativeSymbol(chainID uint64) string {
	if known, ok := knownChains[chainID]; ok {
		return known.symbol
	}
	return "ETH"
}

// WatchedContext is the account and chain state observed by watchers.
// Account is nil while disconnected.
type WatchedContext struct {
	Account *types.Address
	Chain   *Chain
}

// ChainMismatchError is returned when a write targets a chain other than the
// active one.
type ChainMismatchError struct {
	ActiveChainID uint64
	TargetChainID uint64
}

func (e *ChainMismatchError) Error() string {
	return fmt.Sprintf("chain mismatch: expected chain %d, active chain is %d", e.TargetChainID, e.ActiveChainID)
}

type FetchBalanceArgs struct {
	Address types.Address
	// ChainID selects the provider, zero means the active chain.
	ChainID uint64
	// Token is an ERC-20 contract. Nil means the native currency.
	Token *types.Address
	// FormatUnits is one of "wei", "gwei", "ether". Empty uses the token decimals.
	FormatUnits string
}

type FetchBalanceResult struct {
	Decimals  uint8
	Formatted string
	Symbol    string
	Value     *big.Int
}

type Overrides struct {
	From                 *types.Address `json:"from,omitempty"`
	Value                *big.Int       `json:"value,omitempty"`
	GasLimit             *uint64        `json:"gasLimit,omitempty"`
	GasPrice             *big.Int       `json:"gasPrice,omitempty"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *uint64        `json:"nonce,omitempty"`
}

// Mode tells whether a write was prepared ahead of time. Either Prepared or
// DangerouslyUnprepared.
type Mode interface {
	modeName() string
}

// Prepared carries a request built by PrepareWriteContract. A nil Request
// means preparation has not finished yet.
type Prepared struct {
	Request *types.Transaction
}

func (Prepared) modeName() string { return "prepared" }

// DangerouslyUnprepared builds the transaction at write time without any
// prior validation.
type DangerouslyUnprepared struct{}

func (DangerouslyUnprepared) modeName() string { return "dangerouslyUnprepared" }

// ModeName returns the wire name of m, or an empty string for nil.
func ModeName(m Mode) string {
	if m == nil {
		return ""
	}
	return m.modeName()
}

// validateMode accepts only the Prepared and DangerouslyUnprepared values.
func validateMode(m Mode) error {
	switch m.(type) {
	case Prepared, DangerouslyUnprepared:
		return nil
	case nil:
		return fmt.Errorf("%w: mode is not set", ErrInvalidMode)
	default:
		return fmt.Errorf("%w: unsupported mode %T", ErrInvalidMode, m)
	}
}

// requestOf returns the prepared request of m, if any.
func requestOf(m Mode) *types.Transaction {
	if p, ok := m.(Prepared); ok {
		return p.Request
	}
	return nil
}

type WriteContractArgs struct {
	Address      types.Address
	ChainID      uint64
	ABI          *abi.Contract
	FunctionName string
	Args         []any
	Overrides    *Overrides
	Mode         Mode
}

type PrepareWriteContractArgs struct {
	Address      types.Address
	ChainID      uint64
	ABI          *abi.Contract
	FunctionName string
	Args         []any
	Overrides    *Overrides
}

type WriteContractResult struct {
	Hash        types.Hash
	Transaction *types.Transaction

	client RpcClient
}
