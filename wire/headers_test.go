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

package wire_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/atnio/atn-client-go/wire"
)

func TestPaymentHeaders(t *testing.T) {
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	receiver := common.HexToAddress("0x3333333333333333333333333333333333333333")
	sig := []byte{0xde, 0xad, 0xbe, 0xef}

	h := wire.PaymentHeaders(contract, &sender, &receiver, 42, big.NewInt(1500), sig)
	require.Equal(t, contract.Hex(), h.Get(wire.HeaderContractAddress))
	require.Equal(t, sender.Hex(), h.Get(wire.HeaderSenderAddress))
	require.Equal(t, receiver.Hex(), h.Get(wire.HeaderReceiverAddress))
	require.Equal(t, "42", h.Get(wire.HeaderOpenBlock))
	require.Equal(t, "1500", h.Get(wire.HeaderBalance))
	require.Equal(t, "0xdeadbeef", h.Get(wire.HeaderBalanceSignature))
}

func TestPaymentHeadersWithoutChannel(t *testing.T) {
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")

	h := wire.PaymentHeaders(contract, nil, nil, 0, nil, nil)
	require.Equal(t, contract.Hex(), h.Get(wire.HeaderContractAddress))
	require.Empty(t, h.Get(wire.HeaderSenderAddress))
	require.Empty(t, h.Get(wire.HeaderBalance))
	require.Empty(t, h.Get(wire.HeaderBalanceSignature))
}

func TestDbotChannelInfoAmounts(t *testing.T) {
	var info wire.DbotChannelInfo
	require.NoError(t, json.Unmarshal([]byte(`{"deposit":1000,"balance":"450"}`), &info))

	deposit, err := info.DepositBig()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), deposit)

	balance, err := info.BalanceBig()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(450), balance)
}

func TestDbotChannelInfoRejectsGarbage(t *testing.T) {
	var info wire.DbotChannelInfo
	require.NoError(t, json.Unmarshal([]byte(`{"deposit":"1e5","balance":"0"}`), &info))

	_, err := info.DepositBig()
	require.Error(t, err)
}
