package core

import (
	"context"
	"math/big"

	"github.com/defiweb/go-eth/types"
	"github.com/stretchr/testify/mock"
)

type mockRpcClient struct {
	mock.Mock
}

func (m *mockRpcClient) Accounts(ctx context.Context) ([]types.Address, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Address), args.Error(1)
}

func (m *mockRpcClient) ChainID(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockRpcClient) BlockNumber(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	n := args.Get(0)
	if n == nil {
		return nil, args.Error(1)
	}
	return n.(*big.Int), args.Error(1)
}

func (m *mockRpcClient) GetBalance(ctx context.Context, address types.Address, block types.BlockNumber) (*big.Int, error) {
	args := m.Called(ctx, address, block)
	b := args.Get(0)
	if b == nil {
		return nil, args.Error(1)
	}
	return b.(*big.Int), args.Error(1)
}

func (m *mockRpcClient) SendTransaction(ctx context.Context, tx types.Transaction) (*types.Hash, *types.Transaction, error) {
	args := m.Called(ctx, tx)
	var hash *types.Hash
	if h := args.Get(0); h != nil {
		hash = h.(*types.Hash)
	}
	var sent *types.Transaction
	if s := args.Get(1); s != nil {
		sent = s.(*types.Transaction)
	}
	return hash, sent, args.Error(2)
}

func (m *mockRpcClient) Call(ctx context.Context, call types.Call, block types.BlockNumber) ([]byte, *types.Call, error) {
	args := m.Called(ctx, call, block)
	c := args.Get(1)
	if c == nil {
		return args.Get(0).([]byte), nil, args.Error(2)
	}
	return args.Get(0).([]byte), c.(*types.Call), args.Error(2)
}

func (m *mockRpcClient) GetTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error) {
	args := m.Called(ctx, hash)
	r := args.Get(0)
	if r == nil {
		return nil, args.Error(1)
	}
	return r.(*types.TransactionReceipt), args.Error(1)
}

func addressPtr(hex string) *types.Address {
	a := types.MustAddressFromHex(hex)
	return &a
}
