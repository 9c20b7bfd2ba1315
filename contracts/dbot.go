// Copyright 2019 The atn-client-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package contracts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atnio/atn-client-go/client"
)

var (
	// ErrNoSuchEndpoint is returned when the DBot contract has no priced
	// endpoint for the requested uri/method pair.
	ErrNoSuchEndpoint = errors.New("no such endpoint")
	// ErrLabelTooLong is returned when a uri or method does not fit the
	// contract's bytes32 label encoding.
	ErrLabelTooLong = errors.New("label exceeds 32 bytes")
)

// Dbot binds a payee's on-chain identity contract: name, HTTP origin,
// owner and per-endpoint pricing.
type Dbot struct {
	addr common.Address
	abi  abi.ABI
	cb   *client.ContractBackend
}

// NewDbot binds the DBot contract at addr.
func NewDbot(cb *client.ContractBackend, addr common.Address) (*Dbot, error) {
	parsed, err := abi.JSON(strings.NewReader(DbotABI))
	if err != nil {
		return nil, fmt.Errorf("parsing DBot ABI: %w", err)
	}
	return &Dbot{addr: addr, abi: parsed, cb: cb}, nil
}

// Address returns the DBot contract address.
func (d *Dbot) Address() common.Address {
	return d.addr
}

// ABI returns the parsed contract interface.
func (d *Dbot) ABI() abi.ABI {
	return d.abi
}

// Name returns the DBot's registered name.
func (d *Dbot) Name(ctx context.Context) (string, error) {
	return d.callString(ctx, "name")
}

// Domain returns the DBot server's HTTP origin. The value may be host-only,
// without a scheme prefix.
func (d *Dbot) Domain(ctx context.Context) (string, error) {
	return d.callString(ctx, "domain")
}

// Owner returns the account owning the DBot contract. Cooperative-close
// signatures must recover to this address because the receiver itself is a
// contract.
func (d *Dbot) Owner(ctx context.Context) (common.Address, error) {
	data, err := d.abi.Pack("getOwner")
	if err != nil {
		return common.Address{}, err
	}
	ret, err := d.cb.Call(ctx, d.addr, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("calling getOwner: %w", err)
	}
	vals, err := d.abi.Unpack("getOwner", ret)
	if err != nil {
		return common.Address{}, fmt.Errorf("decoding getOwner result: %w", err)
	}
	return vals[0].(common.Address), nil
}

// Price returns the registered price in wei for calling uri with the given
// HTTP method. A zero-priced entry means the endpoint does not exist.
func (d *Dbot) Price(ctx context.Context, uri, method string) (*big.Int, error) {
	methodLabel, err := ToBytes32(strings.ToLower(method))
	if err != nil {
		return nil, err
	}
	uriLabel, err := ToBytes32(uri)
	if err != nil {
		return nil, err
	}
	data, err := d.abi.Pack("getKey", methodLabel, uriLabel)
	if err != nil {
		return nil, err
	}
	ret, err := d.cb.Call(ctx, d.addr, data)
	if err != nil {
		return nil, fmt.Errorf("calling getKey: %w", err)
	}
	vals, err := d.abi.Unpack("getKey", ret)
	if err != nil {
		return nil, fmt.Errorf("decoding getKey result: %w", err)
	}
	key := vals[0].([32]byte)

	data, err = d.abi.Pack("keyToEndPoints", key)
	if err != nil {
		return nil, err
	}
	ret, err = d.cb.Call(ctx, d.addr, data)
	if err != nil {
		return nil, fmt.Errorf("calling keyToEndPoints: %w", err)
	}
	vals, err = d.abi.Unpack("keyToEndPoints", ret)
	if err != nil {
		return nil, fmt.Errorf("decoding keyToEndPoints result: %w", err)
	}
	price := vals[1].(*big.Int)
	if price.Sign() == 0 {
		return nil, fmt.Errorf("%w: uri=%s method=%s", ErrNoSuchEndpoint, uri, method)
	}
	return price, nil
}

func (d *Dbot) callString(ctx context.Context, method string) (string, error) {
	data, err := d.abi.Pack(method)
	if err != nil {
		return "", err
	}
	ret, err := d.cb.Call(ctx, d.addr, data)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", method, err)
	}
	vals, err := d.abi.Unpack(method, ret)
	if err != nil {
		return "", fmt.Errorf("decoding %s result: %w", method, err)
	}
	raw := vals[0].([32]byte)
	return string(bytes.TrimRight(raw[:], "\x00")), nil
}

// ToBytes32 encodes a uri or method string as a right-padded bytes32 label.
func ToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) > 32 {
		return out, fmt.Errorf("%w: %q", ErrLabelTooLong, s)
	}
	copy(out[:], s)
	return out, nil
}
