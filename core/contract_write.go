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
	"encoding/json"
	"fmt"
	"sort"

	"github.com/defiweb/go-eth/abi"
	"github.com/defiweb/go-eth/crypto"
	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

const writeContractEntity = "writeContract"

// WriteOverrides replace parts of the configured write for a single call.
// Passing any WriteOverrides switches the call to DangerouslyUnprepared.
type WriteOverrides struct {
	DangerouslySetArgs      []any
	DangerouslySetOverrides *Overrides
}

// WriteFunc sends the write in the background.
type WriteFunc func(ctx context.Context, overrides *WriteOverrides)

// WriteAsyncFunc sends the write and returns once it was accepted by the node.
type WriteAsyncFunc func(ctx context.Context, overrides *WriteOverrides) (*WriteContractResult, error)

type ContractWriteConfig struct {
	Address      types.Address
	ChainID      uint64
	ABI          *abi.Contract
	FunctionName string
	Args         []any
	Overrides    *Overrides
	Mode         Mode

	Callbacks MutationCallbacks[WriteContractArgs, *WriteContractResult]
}

type ContractWriteState = MutationState[WriteContractArgs, *WriteContractResult]

// ContractWrite binds a contract write to a mutation.
type ContractWrite struct {
	base     WriteContractArgs
	mutation *Mutation[WriteContractArgs, *WriteContractResult]
}

// NewContractWrite validates cfg and creates the binding. The mutation key is
// derived from the full set of write parameters, so bindings with equal
// parameters share their bookkeeping in the client's mutation cache.
func NewContractWrite(client *Client, cfg ContractWriteConfig) (*ContractWrite, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if err := validateMode(cfg.Mode); err != nil {
		return nil, err
	}

	base := WriteContractArgs{
		Address:      cfg.Address,
		ChainID:      cfg.ChainID,
		ABI:          cfg.ABI,
		FunctionName: cfg.FunctionName,
		Args:         cfg.Args,
		Overrides:    cfg.Overrides,
		Mode:         cfg.Mode,
	}
	fn := func(ctx context.Context, args WriteContractArgs) (*WriteContractResult, error) {
		return WriteContract(ctx, client, args)
	}
	return &ContractWrite{
		base: base,
		mutation: NewMutation(
			WriteMutationKey(base),
			fn,
			cfg.Callbacks,
			WithSharedCache[WriteContractArgs, *WriteContractResult](client.MutationCache()),
		),
	}, nil
}

// ready reports whether the write can be sent. A prepared write without a
// request is not ready.
func (w *ContractWrite) ready() bool {
	p, ok := w.base.Mode.(Prepared)
	return !ok || p.Request != nil
}

// Write returns the fire-and-forget entry point, or nil if the write is
// prepared but has no request yet.
func (w *ContractWrite) Write() WriteFunc {
	if !w.ready() {
		return nil
	}
	return func(ctx context.Context, overrides *WriteOverrides) {
		w.mutation.Mutate(ctx, MergeWriteArgs(w.base, overrides))
	}
}

// WriteAsync returns the awaitable entry point, or nil if the write is
// prepared but has no request yet.
func (w *ContractWrite) WriteAsync() WriteAsyncFunc {
	if !w.ready() {
		return nil
	}
	return func(ctx context.Context, overrides *WriteOverrides) (*WriteContractResult, error) {
		return w.mutation.MutateAsync(ctx, MergeWriteArgs(w.base, overrides))
	}
}

func (w *ContractWrite) State() ContractWriteState {
	return w.mutation.State()
}

func (w *ContractWrite) Reset() {
	w.mutation.Reset()
}

func (w *ContractWrite) Subscribe(fn func(ContractWriteState)) (unsubscribe func()) {
	return w.mutation.Subscribe(fn)
}

func (w *ContractWrite) Key() string {
	return w.mutation.Key()
}

// MergeWriteArgs applies per-call overrides to base:
//   - Args comes from DangerouslySetArgs when it is non-nil,
//   - Overrides comes from DangerouslySetOverrides when it is non-nil,
//   - Mode becomes DangerouslyUnprepared whenever overrides is non-nil.
//
// Every other field is taken from base.
func MergeWriteArgs(base WriteContractArgs, overrides *WriteOverrides) WriteContractArgs {
	merged := base
	if overrides == nil {
		return merged
	}
	if overrides.DangerouslySetArgs != nil {
		merged.Args = overrides.DangerouslySetArgs
	}
	if overrides.DangerouslySetOverrides != nil {
		merged.Overrides = overrides.DangerouslySetOverrides
	}
	merged.Mode = DangerouslyUnprepared{}
	return merged
}

type writeMutationKey struct {
	Entity            string             `json:"entity"`
	Address           types.Address      `json:"address"`
	Args              []any              `json:"args"`
	ChainID           uint64             `json:"chainId"`
	ContractInterface []string           `json:"contractInterface"`
	FunctionName      string             `json:"functionName"`
	Overrides         *Overrides         `json:"overrides"`
	Request           *types.Transaction `json:"request"`
}

// WriteMutationKey derives the mutation key of a write from its parameters.
// The key is only used for bookkeeping and carries no uniqueness guarantee.
func WriteMutationKey(args WriteContractArgs) string {
	key := writeMutationKey{
		Entity:            writeContractEntity,
		Address:           args.Address,
		Args:              args.Args,
		ChainID:           args.ChainID,
		ContractInterface: contractInterface(args.ABI),
		FunctionName:      args.FunctionName,
		Overrides:         args.Overrides,
		Request:           requestOf(args.Mode),
	}
	b, err := json.Marshal(key)
	if err != nil {
		// Args that cannot be marshaled still produce a usable key.
		logger.
			WithField("address", args.Address).
			Debugf("failed to marshal mutation key, using fallback: %v", err)
		b = []byte(fmt.Sprintf("%+v", key))
	}
	return writeContractEntity + ":" + crypto.Keccak256(b).String()
}

// contractInterface lists the method signatures of c in a stable order.
func contractInterface(c *abi.Contract) []string {
	if c == nil {
		return nil
	}
	sigs := make([]string, 0, len(c.Methods))
	for _, m := range c.Methods {
		sigs = append(sigs, m.Signature())
	}
	sort.Strings(sigs)
	return sigs
}
