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
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/atnio/atn-client-go/client"
	"github.com/atnio/atn-client-go/client/test"
	"github.com/atnio/atn-client-go/contracts"
	"github.com/atnio/atn-client-go/wallet"
)

var (
	mgrAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	recvAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newManagerFixture(t *testing.T) (*test.MockChain, *client.ContractBackend, *contracts.ChannelManager) {
	t.Helper()
	m := test.NewMockChain()
	acc, err := wallet.NewRandomAccount()
	require.NoError(t, err)
	cb := client.NewContractBackend(m, acc, big.NewInt(1337))
	mgr, err := contracts.NewChannelManager(cb, mgrAddr)
	require.NoError(t, err)
	m.Bind(mgrAddr, mgr.ABI())
	return m, cb, mgr
}

func TestCreateChannelCarriesDeposit(t *testing.T) {
	m, _, mgr := newManagerFixture(t)

	tx, err := mgr.CreateChannel(context.Background(), recvAddr, big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, mgrAddr, *tx.To())
	require.Equal(t, big.NewInt(1000), tx.Value())

	mgrABI := mgr.ABI()
	method, err := mgrABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "createChannel", method.Name)

	sent := m.SentTransactions()
	require.Len(t, sent, 1)
	require.Equal(t, tx.Hash(), sent[0].Hash())
}

func TestTopUpCarriesAmountAsValue(t *testing.T) {
	_, _, mgr := newManagerFixture(t)

	tx, err := mgr.TopUp(context.Background(), recvAddr, 42, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), tx.Value())

	mgrABI := mgr.ABI()
	method, err := mgrABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "topUp", method.Name)

	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, recvAddr, args[0].(common.Address))
	require.Equal(t, uint32(42), args[1].(uint32))
}

func TestCooperativeCloseEncodesSignatures(t *testing.T) {
	_, _, mgr := newManagerFixture(t)

	balanceSig := make([]byte, wallet.SignatureLength)
	closingSig := make([]byte, wallet.SignatureLength)
	balanceSig[0], closingSig[0] = 0xaa, 0xbb

	tx, err := mgr.CooperativeClose(context.Background(), recvAddr, 42, big.NewInt(300), balanceSig, closingSig)
	require.NoError(t, err)
	require.Zero(t, tx.Value().Sign())

	mgrABI := mgr.ABI()
	method, err := mgrABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "cooperativeClose", method.Name)

	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300), args[2].(*big.Int))
	require.Equal(t, balanceSig, args[3].([]byte))
	require.Equal(t, closingSig, args[4].([]byte))
}

func TestWaitCreatedSeesConfirmation(t *testing.T) {
	m, cb, mgr := newManagerFixture(t)
	test.ConfirmManagerTxs(m, mgr.ABI(), mgrAddr)
	mgr.UseWaiter(client.NewEventWaiter(m, time.Millisecond, 100*time.Millisecond))

	before, err := m.BlockNumber(context.Background())
	require.NoError(t, err)
	_, err = mgr.CreateChannel(context.Background(), recvAddr, big.NewInt(1000))
	require.NoError(t, err)

	ev, err := mgr.WaitCreated(context.Background(), cb.Account().Address(), recvAddr, before+1)
	require.NoError(t, err)
	require.Equal(t, cb.Account().Address(), ev.Sender)
	require.Equal(t, recvAddr, ev.Receiver)
	require.Equal(t, big.NewInt(1000), ev.Deposit)
	require.Equal(t, before+1, ev.Raw.BlockNumber)
}

func TestWaitToppedUpMatchesOpenBlockTopic(t *testing.T) {
	m, cb, mgr := newManagerFixture(t)
	test.ConfirmManagerTxs(m, mgr.ABI(), mgrAddr)
	mgr.UseWaiter(client.NewEventWaiter(m, time.Millisecond, 20*time.Millisecond))

	_, err := mgr.TopUp(context.Background(), recvAddr, 42, big.NewInt(500))
	require.NoError(t, err)

	sender := cb.Account().Address()
	ev, err := mgr.WaitToppedUp(context.Background(), sender, recvAddr, 42, 0)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), ev.AddedDeposit)

	// The same wait for a different open block must not match.
	_, err = mgr.WaitToppedUp(context.Background(), sender, recvAddr, 43, 0)
	require.ErrorIs(t, err, client.ErrNoEvent)
}

func TestGetChannelInfo(t *testing.T) {
	m, cb, mgr := newManagerFixture(t)

	key := [32]byte{1, 2, 3}
	m.Handle(mgrAddr, "getChannelInfo", func(args []interface{}) ([]interface{}, error) {
		require.Equal(t, uint32(42), args[2].(uint32))
		return []interface{}{key, big.NewInt(1000), uint32(170), big.NewInt(0), big.NewInt(450)}, nil
	})

	info, err := mgr.GetChannelInfo(context.Background(), cb.Account().Address(), recvAddr, 42)
	require.NoError(t, err)
	require.Equal(t, key, info.Key)
	require.Equal(t, big.NewInt(1000), info.Deposit)
	require.Equal(t, uint32(170), info.SettleBlock)
	require.Equal(t, big.NewInt(450), info.TransferredAmount)
}
