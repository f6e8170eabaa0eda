package core

import (
	"context"
	"errors"
	"math/big"

	"github.com/defiweb/go-eth/types"
)

var ErrNoProvider = errors.New("no rpc provider configured for chain")

type RpcClient interface {
	Accounts(ctx context.Context) ([]types.Address, error)

	ChainID(ctx context.Context) (uint64, error)

	BlockNumber(ctx context.Context) (*big.Int, error)

	GetBalance(ctx context.Context, address types.Address, block types.BlockNumber) (*big.Int, error)

	SendTransaction(ctx context.Context, tx types.Transaction) (*types.Hash, *types.Transaction, error)

	Call(ctx context.Context, call types.Call, block types.BlockNumber) ([]byte, *types.Call, error)

	GetTransactionReceipt(ctx context.Context, hash types.Hash) (*types.TransactionReceipt, error)
}

// Client is passed explicitly to every watcher and write binding instead of
// living in a process wide singleton.
type Client struct {
	store     *Store
	fallback  RpcClient
	mutations *MutationCache
	providers map[uint64]RpcClient
}

type ClientOption func(c *Client)

// WithChainProvider registers a provider used for the given chain id.
func WithChainProvider(chainID uint64, provider RpcClient) ClientOption {
	return func(c *Client) {
		c.providers[chainID] = provider
	}
}

// WithMutationCache makes the client hand out the given cache to the write
// bindings created from it.
func WithMutationCache(cache *MutationCache) ClientOption {
	return func(c *Client) {
		c.mutations = cache
	}
}

func NewClient(store *Store, provider RpcClient, opts ...ClientOption) *Client {
	if store == nil {
		store = NewStore(WatchedContext{})
	}
	c := &Client{
		store:     store,
		fallback:  provider,
		providers: make(map[uint64]RpcClient),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mutations == nil {
		c.mutations = NewMutationCache()
	}
	return c
}

func (c *Client) Store() *Store {
	return c.store
}

func (c *Client) MutationCache() *MutationCache {
	return c.mutations
}

// Provider resolves the provider for chainID. Zero means the active chain of
// the store, falling back to the default provider.
func (c *Client) Provider(chainID uint64) (RpcClient, error) {
	if chainID == 0 {
		if chain := c.store.Get().Chain; chain != nil {
			chainID = chain.ID
		}
	}

	p, ok := c.providers[chainID]
	if ok && p != nil {
		return p, nil
	}
	if c.fallback == nil {
		return nil, ErrNoProvider
	}
	return c.fallback, nil
}
