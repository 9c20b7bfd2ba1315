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

package channel_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/atnio/atn-client-go/channel"
	"github.com/atnio/atn-client-go/client/test"
	"github.com/atnio/atn-client-go/contracts"
)

func emitCreated(t *testing.T, m *test.MockChain, mgr *contracts.ChannelManager, sender, receiver common.Address, block uint64, deposit *big.Int) {
	t.Helper()
	ev := mgr.ABI().Events[contracts.EventChannelCreated]
	data, err := ev.Inputs.NonIndexed().Pack(deposit)
	require.NoError(t, err)
	m.Emit(mgr.Address(), block, []common.Hash{
		ev.ID,
		common.BytesToHash(sender.Bytes()),
		common.BytesToHash(receiver.Bytes()),
	}, data)
}

func TestDirectoryChannels(t *testing.T) {
	m, cb, mgr := newFixture(t)
	sender := cb.Account().Address()

	emitCreated(t, m, mgr, sender, receiverAddr, 10, big.NewInt(100))
	emitCreated(t, m, mgr, sender, receiverAddr, 20, big.NewInt(500))
	emitCreated(t, m, mgr, sender, receiverAddr, 30, big.NewInt(1000))

	m.Handle(mgr.Address(), "getChannelInfo", func(args []interface{}) ([]interface{}, error) {
		switch args[2].(uint32) {
		case 20:
			return []interface{}{[32]byte{}, big.NewInt(500), uint32(500), big.NewInt(0), big.NewInt(0)}, nil
		case 30:
			return []interface{}{[32]byte{}, big.NewInt(1000), uint32(0), big.NewInt(0), big.NewInt(450)}, nil
		default:
			// The contract prunes settled channels.
			return nil, errors.New("execution reverted")
		}
	})

	dir := channel.NewDirectory(cb, mgr)
	channels, err := dir.Channels(context.Background(), receiverAddr)
	require.NoError(t, err)
	require.Len(t, channels, 2)

	require.Equal(t, uint32(30), channels[0].OpenBlock())
	require.Equal(t, channel.StateOpen, channels[0].State())
	require.Equal(t, big.NewInt(450), channels[0].Balance())
	require.Equal(t, big.NewInt(1000), channels[0].Deposit())
	require.True(t, channels[0].Valid())

	require.Equal(t, uint32(20), channels[1].OpenBlock())
	require.Equal(t, channel.StateSettling, channels[1].State())
}

func TestDirectoryIgnoresOtherReceivers(t *testing.T) {
	m, cb, mgr := newFixture(t)
	sender := cb.Account().Address()
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")

	emitCreated(t, m, mgr, sender, other, 10, big.NewInt(100))

	dir := channel.NewDirectory(cb, mgr)
	channels, err := dir.Channels(context.Background(), receiverAddr)
	require.NoError(t, err)
	require.Empty(t, channels)
}
