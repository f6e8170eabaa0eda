package core

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/defiweb/go-eth/types"
	logger "github.com/sirupsen/logrus"
)

// TxConfirmationPollInterval is how often the receipt is checked, roughly
// once per block.
var TxConfirmationPollInterval = 12 * time.Second

// WaitForTxConfirmation waits for the transaction to be confirmed.
func WaitForTxConfirmation(
	ctx context.Context,
	client RpcClient,
	txHash *types.Hash,
	timeout time.Duration,
) (*types.TransactionReceipt, error) {
	if client == nil {
		return nil, fmt.Errorf("ethereum client not set")
	}
	if txHash == nil {
		return nil, fmt.Errorf("tx hash is nil")
	}

	ticker := time.NewTicker(TxConfirmationPollInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to wait for transaction confirmation: %w", ctx.Err())
		case <-ticker.C:
			logger.WithField("txHash", txHash).Tracef("checking transaction confirmation")

			receipt, err := client.GetTransactionReceipt(ctx, *txHash)
			if err != nil {
				logger.WithField("txHash", txHash).Errorf("failed to get transaction receipt: %v", err)
				continue
			}
			if receipt == nil {
				continue
			}

			if receipt.Status == nil || receipt.TransactionHash.IsZero() {
				logger.WithField("txHash", txHash).Tracef("transaction is not yet confirmed")
				continue
			}
			return receipt, nil
		}
	}
}

var unitDecimals = map[string]uint8{
	"wei":   0,
	"gwei":  9,
	"ether": 18,
}

// UnitDecimals returns the number of decimals of a named unit.
func UnitDecimals(unit string) (uint8, error) {
	d, ok := unitDecimals[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	return d, nil
}

// FormatUnits renders value as a decimal number with the given number of
// decimals, e.g. 1500000000000000000 with 18 decimals is "1.5". With
// decimals the result always has a fractional part and no trailing zeros
// beyond the first, without decimals it is the plain integer.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		value = new(big.Int)
	}
	if decimals == 0 {
		return value.String()
	}
	negative := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()

	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-d]
	fraction := strings.TrimRight(digits[len(digits)-d:], "0")
	if fraction == "" {
		fraction = "0"
	}

	s := whole + "." + fraction
	if negative {
		s = "-" + s
	}
	return s
}
