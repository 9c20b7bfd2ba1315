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

package contracts_test

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/atnio/atn-client-go/client"
	"github.com/atnio/atn-client-go/client/test"
	"github.com/atnio/atn-client-go/contracts"
	"github.com/atnio/atn-client-go/wallet"
)

var dbotAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")

func label(t *testing.T, s string) [32]byte {
	t.Helper()
	l, err := contracts.ToBytes32(s)
	require.NoError(t, err)
	return l
}

func newDbotFixture(t *testing.T) (*test.MockChain, *contracts.Dbot) {
	t.Helper()
	m := test.NewMockChain()
	acc, err := wallet.NewRandomAccount()
	require.NoError(t, err)
	cb := client.NewContractBackend(m, acc, big.NewInt(1337))
	dbot, err := contracts.NewDbot(cb, dbotAddr)
	require.NoError(t, err)
	m.Bind(dbotAddr, dbot.ABI())
	return m, dbot
}

func TestDbotIdentity(t *testing.T) {
	m, dbot := newDbotFixture(t)
	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")

	m.Handle(dbotAddr, "name", func([]interface{}) ([]interface{}, error) {
		return []interface{}{label(t, "weather-bot")}, nil
	})
	m.Handle(dbotAddr, "domain", func([]interface{}) ([]interface{}, error) {
		return []interface{}{label(t, "dbot.example.org:3000")}, nil
	})
	m.Handle(dbotAddr, "getOwner", func([]interface{}) ([]interface{}, error) {
		return []interface{}{owner}, nil
	})

	ctx := context.Background()
	name, err := dbot.Name(ctx)
	require.NoError(t, err)
	require.Equal(t, "weather-bot", name)

	domain, err := dbot.Domain(ctx)
	require.NoError(t, err)
	require.Equal(t, "dbot.example.org:3000", domain)

	got, err := dbot.Owner(ctx)
	require.NoError(t, err)
	require.Equal(t, owner, got)
}

// bindEndpoint registers one priced endpoint, keyed the way the contract
// keys them: getKey hashes the lowercase method label with the uri label.
func bindEndpoint(t *testing.T, m *test.MockChain, uri, method string, price *big.Int) {
	t.Helper()
	methodLabel := label(t, strings.ToLower(method))
	uriLabel := label(t, uri)
	key := crypto.Keccak256Hash(append(methodLabel[:], uriLabel[:]...))

	m.Handle(dbotAddr, "getKey", func(args []interface{}) ([]interface{}, error) {
		gotMethod := args[0].([32]byte)
		gotURI := args[1].([32]byte)
		return []interface{}{crypto.Keccak256Hash(append(gotMethod[:], gotURI[:]...))}, nil
	})
	m.Handle(dbotAddr, "keyToEndPoints", func(args []interface{}) ([]interface{}, error) {
		if args[0].([32]byte) == key {
			return []interface{}{uriLabel, price}, nil
		}
		return []interface{}{[32]byte{}, big.NewInt(0)}, nil
	})
}

func TestDbotPrice(t *testing.T) {
	m, dbot := newDbotFixture(t)
	bindEndpoint(t, m, "/api/v1/weather", "GET", big.NewInt(100))

	price, err := dbot.Price(context.Background(), "/api/v1/weather", "GET")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), price)

	// The method label is lowercased before hashing, so the mixed-case
	// method resolves to the same endpoint.
	price, err = dbot.Price(context.Background(), "/api/v1/weather", "get")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), price)
}

func TestDbotPriceUnknownEndpoint(t *testing.T) {
	m, dbot := newDbotFixture(t)
	bindEndpoint(t, m, "/api/v1/weather", "GET", big.NewInt(100))

	_, err := dbot.Price(context.Background(), "/api/v1/nope", "GET")
	require.ErrorIs(t, err, contracts.ErrNoSuchEndpoint)
}

func TestDbotPriceLabelTooLong(t *testing.T) {
	_, dbot := newDbotFixture(t)

	_, err := dbot.Price(context.Background(), strings.Repeat("x", 33), "GET")
	require.ErrorIs(t, err, contracts.ErrLabelTooLong)
}

func TestToBytes32(t *testing.T) {
	l, err := contracts.ToBytes32("abc")
	require.NoError(t, err)
	require.Equal(t, byte('a'), l[0])
	require.Equal(t, byte(0), l[3])

	_, err = contracts.ToBytes32(strings.Repeat("y", 40))
	require.ErrorIs(t, err, contracts.ErrLabelTooLong)
}
