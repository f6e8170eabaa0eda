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
	"strconv"
	"time"

	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const DefaultPollInterval = 30 * time.Second

// Connector keeps a Store in sync with the account and chain reported by an
// RPC node.
type Connector struct {
	store           *Store
	client          RpcClient
	subscriptionURL string
	pollInterval    time.Duration
	// account pins the active account, e.g. to the signing key, instead of
	// the first account reported by the node.
	account *types.Address
}

func NewConnector(
	store *Store,
	client RpcClient,
	account *types.Address,
	subscriptionURL string,
	pollInterval time.Duration,
) *Connector {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Connector{
		store:           store,
		client:          client,
		account:         account,
		subscriptionURL: subscriptionURL,
		pollInterval:    pollInterval,
	}
}

// Sync reads the account and chain from the node and updates the store.
func (c *Connector) Sync(ctx context.Context) error {
	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id with error: %w", err)
	}

	account := c.account
	if account == nil {
		accounts, err := c.client.Accounts(ctx)
		if err != nil {
			return fmt.Errorf("failed to get accounts with error: %w", err)
		}
		if len(accounts) > 0 {
			account = &accounts[0]
		}
	}

	c.store.Set(func(prev WatchedContext) WatchedContext {
		next := prev
		if prev.Chain == nil || prev.Chain.ID != chainID {
			next.Chain = ChainFromID(chainID)
		}
		if !sameAccount(prev.Account, account) {
			next.Account = account
		}
		return next
	})

	blockNumber, err := c.client.BlockNumber(ctx)
	if err != nil {
		logger.Warnf("Failed to get latest block number with error: %v", err)
		return nil
	}
	if blockNumber != nil {
		f, _ := blockNumber.Float64()
		LastSyncedBlockGauge.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(f)
	}
	return nil
}

func sameAccount(a, b *types.Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Run syncs once and then keeps syncing until ctx is done. Without a
// subscription URL the node is polled, otherwise every new head triggers a
// sync.
func (c *Connector) Run(ctx context.Context) error {
	err := c.Sync(ctx)
	if err != nil {
		logger.Errorf("Failed to sync watched context with error: %v", err)
	}

	if c.subscriptionURL != "" {
		return c.Listen(ctx)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Terminate connector")
			return nil

		case t := <-ticker.C:
			logger.Tracef("Tick at: %v", t)

			err := c.Sync(ctx)
			if err != nil {
				ErrorsCounter.WithLabelValues("", "connector", err.Error()).Inc()
				logger.Errorf("Failed to sync watched context with error: %v", err)
			}
		}
	}
}

// Listen re-syncs on every new head received over the subscription URL.
func (c *Connector) Listen(ctx context.Context) error {
	logger.Infof("Listening for new heads from %v", c.subscriptionURL)
	ethcli, err := ethclient.DialContext(ctx, c.subscriptionURL)
	if err != nil {
		return err
	}
	defer ethcli.Close()

	heads := make(chan *gethtypes.Header)
	sub, err := ethcli.SubscribeNewHead(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Terminate connector")
			return nil
		case err := <-sub.Err():
			return err
		case head := <-heads:
			logger.Tracef("New head %v", head.Number)

			err := c.Sync(ctx)
			if err != nil {
				ErrorsCounter.WithLabelValues("", "connector", err.Error()).Inc()
				logger.Errorf("Failed to sync watched context with error: %v", err)
			}
		}
	}
}
