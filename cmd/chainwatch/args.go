package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/defiweb/go-eth/abi"
	"github.com/defiweb/go-eth/types"

	"github.com/chronicleprotocol/chainwatch/core"
)

func loadABI(path string) (*abi.Contract, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read abi file: %w", err)
	}
	contract, err := abi.ParseJSON(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse abi file: %w", err)
	}
	return contract, nil
}

// parseArgs decodes a JSON array of call arguments. Numbers become big
// integers and 20 byte hex strings become addresses.
func parseArgs(s string) ([]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse args, expected a JSON array: %w", err)
	}
	args := make([]any, len(raw))
	for i, v := range raw {
		arg, err := convertArg(v)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		args[i] = arg
	}
	return args, nil
}

func convertArg(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		n, ok := new(big.Int).SetString(t.String(), 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", t)
		}
		return n, nil
	case string:
		if len(t) == 42 && strings.HasPrefix(t, "0x") {
			if addr, err := types.AddressFromHex(t); err == nil {
				return addr, nil
			}
		}
		return t, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			c, err := convertArg(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return v, nil
	}
}

func parseOverrides(value string, gasLimit uint64) (*core.Overrides, error) {
	if value == "" && gasLimit == 0 {
		return nil, nil
	}
	o := &core.Overrides{}
	if value != "" {
		v, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid value %q", value)
		}
		o.Value = v
	}
	if gasLimit != 0 {
		o.GasLimit = &gasLimit
	}
	return o, nil
}
