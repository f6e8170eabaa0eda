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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defiweb/go-eth/rpc"
	"github.com/defiweb/go-eth/rpc/transport"
	"github.com/defiweb/go-eth/txmodifier"
	"github.com/defiweb/go-eth/types"
	"github.com/defiweb/go-eth/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chronicleprotocol/chainwatch/core"
)

const (
	defaultGasLimitMultiplier = 1.25
)

type options struct {
	SecretKey       string
	Key             string
	Password        string
	PasswordFile    string
	RpcURL          string
	SubscriptionURL string
	ChainID         uint64
	MetricsAddr     string
	LogLevel        string
	PollInterval    time.Duration
}

// Checks and return private key based on given options
func (o *options) getKey() (*wallet.PrivateKey, error) {
	if o.SecretKey != "" {
		return wallet.NewKeyFromBytes(types.MustBytesFromHex(o.SecretKey)), nil
	}

	if o.Key == "" {
		return nil, fmt.Errorf("please provide key using `--keystore` or `--secret-key` flag")
	}

	stat, err := os.Stat(o.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore file: %v", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("keystore file is a directory")
	}

	if o.Password == "" && o.PasswordFile == "" {
		return nil, fmt.Errorf("please provide password using `--password` or `--password-file` flag")
	}
	password := o.Password
	if password == "" {
		p, err := os.ReadFile(o.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read password file: %v", err)
		}
		password = string(p)
	}
	return wallet.NewKeyFromJSON(o.Key, password)
}

func (o *options) hasKey() bool {
	return o.SecretKey != "" || o.Key != ""
}

// newRpcClient builds a JSON-RPC client, with signing enabled when a key is
// configured.
func (o *options) newRpcClient() (*rpc.Client, *wallet.PrivateKey, error) {
	if o.RpcURL == "" {
		return nil, nil, fmt.Errorf("please provide Rpc URL using `--rpc-url` flag")
	}

	t, err := transport.NewHTTP(transport.HTTPOptions{URL: o.RpcURL})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	clientOptions := []rpc.ClientOptions{
		rpc.WithTransport(t),
	}

	var key *wallet.PrivateKey
	if o.hasKey() {
		key, err = o.getKey()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get private key: %w", err)
		}
		clientOptions = append(clientOptions,
			rpc.WithKeys(key),
			rpc.WithDefaultAddress(key.Address()),
			rpc.WithTXModifiers(
				txmodifier.NewNonceProvider(false),
				txmodifier.NewGasLimitEstimator(defaultGasLimitMultiplier, 0, 0),
				txmodifier.NewLegacyGasFeeEstimator(1, nil, nil),
			),
		)
	}

	if o.ChainID != 0 {
		clientOptions = append(clientOptions, rpc.WithChainID(o.ChainID))
	}

	client, err := rpc.NewClient(clientOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	return client, key, nil
}

// newCoreClient wires the watched store, the connector keeping it in sync and
// the core client on top of the RPC client.
func (o *options) newCoreClient() (*core.Client, *core.Connector, error) {
	rpcClient, key, err := o.newRpcClient()
	if err != nil {
		return nil, nil, err
	}

	var account *types.Address
	if key != nil {
		addr := key.Address()
		account = &addr
	}

	store := core.NewStore(core.WatchedContext{})
	connector := core.NewConnector(store, rpcClient, account, o.SubscriptionURL, o.PollInterval)
	return core.NewClient(store, rpcClient), connector, nil
}

func (o *options) setupLogger() error {
	level, err := logger.ParseLevel(o.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.LogLevel, err)
	}
	logger.SetLevel(level)
	return nil
}

// serveMetrics exposes prometheus metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(core.Collectors()...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "chainwatch",
		Short: "Watch account balances and send contract writes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogger()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.SecretKey, "secret-key", "", "Private key in format `0x******` or `*******`. If provided, no need to use --keystore")
	cmd.PersistentFlags().StringVar(&opts.Key, "keystore", "", "Keystore file (NOT FOLDER), path to key .json file. If provided, no need to use --secret-key")
	cmd.PersistentFlags().StringVar(&opts.Password, "password", "", "Key raw password as text")
	cmd.PersistentFlags().StringVar(&opts.PasswordFile, "password-file", "", "Path to key password file")
	cmd.PersistentFlags().StringVar(&opts.RpcURL, "rpc-url", "", "Node HTTP RPC_URL, normally starts with https://****")
	cmd.PersistentFlags().StringVar(&opts.SubscriptionURL, "subscription-url", "", "[Optional] Used if you want to sync on new heads rather than poll, typically starts with wss://****")
	cmd.PersistentFlags().Uint64Var(&opts.ChainID, "chain-id", 0, "If no chain_id provided binary will try to get chain_id from given RPC")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "[Optional] Address to serve prometheus metrics on, e.g. `:9090`")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().DurationVar(&opts.PollInterval, "poll-interval", core.DefaultPollInterval, "Interval to poll account and chain at when no subscription URL is given")

	cmd.AddCommand(newWatchBalanceCmd(&opts), newWriteCmd(&opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newWatchBalanceCmd(opts *options) *cobra.Command {
	var (
		address    string
		token      string
		units      string
		latestOnly bool
	)
	cmd := &cobra.Command{
		Use:     "watch-balance",
		Aliases: []string{"balance"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, connector, err := opts.newCoreClient()
			if err != nil {
				return err
			}

			balanceArgs := core.FetchBalanceArgs{FormatUnits: units}
			if address != "" {
				balanceArgs.Address, err = types.AddressFromHex(address)
				if err != nil {
					return fmt.Errorf("failed to parse given address %s with error: %w", address, err)
				}
			} else if opts.hasKey() {
				key, err := opts.getKey()
				if err != nil {
					return err
				}
				balanceArgs.Address = key.Address()
			} else {
				return fmt.Errorf("please provide address using `--address` flag")
			}
			if token != "" {
				t, err := types.AddressFromHex(token)
				if err != nil {
					return fmt.Errorf("failed to parse given token %s with error: %w", token, err)
				}
				balanceArgs.Token = &t
			}

			var watchOpts []core.WatchOption
			if latestOnly {
				watchOpts = append(watchOpts, core.WithLatestOnly())
			}

			g, ctx := errgroup.WithContext(cmd.Context())

			unsubscribe := core.WatchBalance(ctx, client, balanceArgs, func(balance *core.FetchBalanceResult, err error) {
				if err != nil {
					logger.WithField("address", balanceArgs.Address).Errorf("Failed to fetch balance: %v", err)
					return
				}
				logger.
					WithField("address", balanceArgs.Address).
					WithField("chain", client.Store().Get().Chain).
					Infof("Balance: %s %s", balance.Formatted, balance.Symbol)
			}, watchOpts...)
			defer unsubscribe()

			unwatchNetwork := core.WatchNetwork(ctx, client.Store(), func(chain *core.Chain) {
				if chain != nil && chain.Unsupported {
					logger.Warnf("Connected to unsupported %v", chain)
				}
			})
			defer unwatchNetwork()

			g.Go(func() error {
				return connector.Run(ctx)
			})
			if opts.MetricsAddr != "" {
				g.Go(func() error {
					return serveMetrics(ctx, opts.MetricsAddr)
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Account to watch. Defaults to the key address")
	cmd.Flags().StringVar(&token, "token", "", "[Optional] ERC-20 token contract address")
	cmd.Flags().StringVar(&units, "units", "", "[Optional] Format units: wei, gwei or ether")
	cmd.Flags().BoolVar(&latestOnly, "latest-only", false, "Drop balances of superseded recomputes")
	return cmd
}

func newWriteCmd(opts *options) *cobra.Command {
	var (
		contract   string
		abiPath    string
		function   string
		argsJSON   string
		value      string
		gasLimit   uint64
		unprepared bool
		wait       bool
	)
	cmd := &cobra.Command{
		Use:  "write",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !opts.hasKey() {
				return fmt.Errorf("please provide key using `--keystore` or `--secret-key` flag")
			}
			client, connector, err := opts.newCoreClient()
			if err != nil {
				return err
			}
			if err := connector.Sync(ctx); err != nil {
				return err
			}

			address, err := types.AddressFromHex(contract)
			if err != nil {
				return fmt.Errorf("failed to parse given contract %s with error: %w", contract, err)
			}
			contractABI, err := loadABI(abiPath)
			if err != nil {
				return err
			}
			callArgs, err := parseArgs(argsJSON)
			if err != nil {
				return err
			}
			overrides, err := parseOverrides(value, gasLimit)
			if err != nil {
				return err
			}

			var mode core.Mode = core.DangerouslyUnprepared{}
			if !unprepared {
				request, err := core.PrepareWriteContract(ctx, client, core.PrepareWriteContractArgs{
					Address:      address,
					ChainID:      opts.ChainID,
					ABI:          contractABI,
					FunctionName: function,
					Args:         callArgs,
					Overrides:    overrides,
				})
				if err != nil {
					return err
				}
				mode = core.Prepared{Request: request}
			}

			w, err := core.NewContractWrite(client, core.ContractWriteConfig{
				Address:      address,
				ChainID:      opts.ChainID,
				ABI:          contractABI,
				FunctionName: function,
				Args:         callArgs,
				Overrides:    overrides,
				Mode:         mode,
				Callbacks: core.MutationCallbacks[core.WriteContractArgs, *core.WriteContractResult]{
					OnMutate: func(args core.WriteContractArgs) {
						logger.WithField("address", args.Address).Debugf("Sending %s", args.FunctionName)
					},
					OnError: func(err error, args core.WriteContractArgs) {
						logger.WithField("address", args.Address).Errorf("Write %s failed: %v", args.FunctionName, err)
					},
				},
			})
			if err != nil {
				return err
			}

			writeAsync := w.WriteAsync()
			if writeAsync == nil {
				return fmt.Errorf("write is not prepared")
			}
			result, err := writeAsync(ctx, nil)
			if err != nil {
				return err
			}
			logger.Infof("Transaction hash: %v", result.Hash.String())

			if wait {
				receipt, err := result.Wait(ctx)
				if err != nil {
					return err
				}
				logger.
					WithField("txHash", result.Hash).
					WithField("status", receipt.Status).
					Infof("Transaction confirmed in block %s", receipt.BlockHash)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contract, "contract", "", "Contract address")
	cmd.Flags().StringVar(&abiPath, "abi", "", "Path to the contract ABI JSON file")
	cmd.Flags().StringVar(&function, "function", "", "Contract function to call")
	cmd.Flags().StringVar(&argsJSON, "args", "", "[Optional] Function arguments as a JSON array, e.g. `[\"0x...\", \"1000\"]`")
	cmd.Flags().StringVar(&value, "value", "", "[Optional] Value to send in wei")
	cmd.Flags().Uint64Var(&gasLimit, "gas-limit", 0, "[Optional] Gas limit")
	cmd.Flags().BoolVar(&unprepared, "unprepared", false, "Skip preparing (simulating) the write before sending it")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the transaction to be mined")
	_ = cmd.MarkFlagRequired("contract")
	_ = cmd.MarkFlagRequired("abi")
	_ = cmd.MarkFlagRequired("function")
	return cmd
}
