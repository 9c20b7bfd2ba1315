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
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/atnio/atn-client-go/client"
)

// Channel manager event names.
const (
	EventChannelCreated        = "ChannelCreated"
	EventChannelToppedUp       = "ChannelToppedUp"
	EventChannelCloseRequested = "ChannelCloseRequested"
	EventChannelSettled        = "ChannelSettled"
)

// ChannelInfo mirrors the manager contract's queryable channel record.
type ChannelInfo struct {
	Key               [32]byte
	Deposit           *big.Int
	SettleBlock       uint32
	ClosingBalance    *big.Int
	TransferredAmount *big.Int
}

// ChannelCreatedEvent is emitted when a channel is opened. The block the
// event was emitted in is the channel's open block.
type ChannelCreatedEvent struct {
	Sender   common.Address
	Receiver common.Address
	Deposit  *big.Int
	Raw      types.Log
}

// ChannelToppedUpEvent is emitted when a channel's deposit is increased.
type ChannelToppedUpEvent struct {
	Sender       common.Address
	Receiver     common.Address
	OpenBlock    uint32
	AddedDeposit *big.Int
	Raw          types.Log
}

// ChannelCloseRequestedEvent is emitted when a unilateral close starts the
// challenge period.
type ChannelCloseRequestedEvent struct {
	Sender    common.Address
	Receiver  common.Address
	OpenBlock uint32
	Balance   *big.Int
	Raw       types.Log
}

// ChannelSettledEvent is emitted when a channel is settled, either
// cooperatively or after the challenge period.
type ChannelSettledEvent struct {
	Sender    common.Address
	Receiver  common.Address
	OpenBlock uint32
	Balance   *big.Int
	Raw       types.Log
}

// ChannelManager binds the channel manager contract.
type ChannelManager struct {
	addr   common.Address
	abi    abi.ABI
	cb     *client.ContractBackend
	waiter *client.EventWaiter
}

// NewChannelManager binds the manager contract at addr. Event waits use the
// default retry interval and timeout until UseWaiter overrides them.
func NewChannelManager(cb *client.ContractBackend, addr common.Address) (*ChannelManager, error) {
	parsed, err := abi.JSON(strings.NewReader(ChannelManagerABI))
	if err != nil {
		return nil, fmt.Errorf("parsing channel manager ABI: %w", err)
	}
	return &ChannelManager{
		addr:   addr,
		abi:    parsed,
		cb:     cb,
		waiter: client.NewEventWaiter(cb.Backend(), 0, 0),
	}, nil
}

// UseWaiter replaces the event waiter used for confirmation waits.
func (m *ChannelManager) UseWaiter(w *client.EventWaiter) {
	m.waiter = w
}

// Address returns the manager contract address.
func (m *ChannelManager) Address() common.Address {
	return m.addr
}

// ABI returns the parsed contract interface.
func (m *ChannelManager) ABI() abi.ABI {
	return m.abi
}

// CreateChannel submits a channel-opening transaction locking deposit.
func (m *ChannelManager) CreateChannel(ctx context.Context, receiver common.Address, deposit *big.Int) (*types.Transaction, error) {
	data, err := m.abi.Pack("createChannel", receiver)
	if err != nil {
		return nil, err
	}
	return m.cb.SubmitTx(ctx, m.addr, deposit, data)
}

// TopUp submits a deposit-increasing transaction carrying amount.
func (m *ChannelManager) TopUp(ctx context.Context, receiver common.Address, openBlock uint32, amount *big.Int) (*types.Transaction, error) {
	data, err := m.abi.Pack("topUp", receiver, openBlock)
	if err != nil {
		return nil, err
	}
	return m.cb.SubmitTx(ctx, m.addr, amount, data)
}

// UncooperativeClose submits a unilateral close request for balance.
func (m *ChannelManager) UncooperativeClose(ctx context.Context, receiver common.Address, openBlock uint32, balance *big.Int) (*types.Transaction, error) {
	data, err := m.abi.Pack("uncooperativeClose", receiver, openBlock, balance)
	if err != nil {
		return nil, err
	}
	return m.cb.SubmitTx(ctx, m.addr, nil, data)
}

// CooperativeClose submits a combined close+settle transaction carrying the
// sender's balance signature and the receiver's closing signature.
func (m *ChannelManager) CooperativeClose(ctx context.Context, receiver common.Address, openBlock uint32, balance *big.Int, balanceSig, closingSig []byte) (*types.Transaction, error) {
	data, err := m.abi.Pack("cooperativeClose", receiver, openBlock, balance, balanceSig, closingSig)
	if err != nil {
		return nil, err
	}
	return m.cb.SubmitTx(ctx, m.addr, nil, data)
}

// Settle submits the final settlement transaction after the challenge
// period.
func (m *ChannelManager) Settle(ctx context.Context, receiver common.Address, openBlock uint32) (*types.Transaction, error) {
	data, err := m.abi.Pack("settle", receiver, openBlock)
	if err != nil {
		return nil, err
	}
	return m.cb.SubmitTx(ctx, m.addr, nil, data)
}

// GetChannelInfo reads the contract-recorded state of a channel. The call
// reverts for unknown or already settled channels.
func (m *ChannelManager) GetChannelInfo(ctx context.Context, sender, receiver common.Address, openBlock uint32) (*ChannelInfo, error) {
	data, err := m.abi.Pack("getChannelInfo", sender, receiver, openBlock)
	if err != nil {
		return nil, err
	}
	ret, err := m.cb.Call(ctx, m.addr, data)
	if err != nil {
		return nil, fmt.Errorf("calling getChannelInfo: %w", err)
	}
	vals, err := m.abi.Unpack("getChannelInfo", ret)
	if err != nil {
		return nil, fmt.Errorf("decoding getChannelInfo result: %w", err)
	}
	return &ChannelInfo{
		Key:               vals[0].([32]byte),
		Deposit:           vals[1].(*big.Int),
		SettleBlock:       vals[2].(uint32),
		ClosingBalance:    vals[3].(*big.Int),
		TransferredAmount: vals[4].(*big.Int),
	}, nil
}

// FilterCreated returns all ChannelCreated events for the sender/receiver
// pair starting at fromBlock.
func (m *ChannelManager) FilterCreated(ctx context.Context, sender, receiver common.Address, fromBlock uint64) ([]ChannelCreatedEvent, error) {
	q := m.eventQuery(EventChannelCreated, sender, receiver, nil, fromBlock)
	logs, err := m.cb.Backend().FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("filtering %s logs: %w", EventChannelCreated, err)
	}
	events := make([]ChannelCreatedEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := m.parseCreated(l)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}

// WaitCreated blocks until a ChannelCreated event for the pair is observed.
func (m *ChannelManager) WaitCreated(ctx context.Context, sender, receiver common.Address, fromBlock uint64) (*ChannelCreatedEvent, error) {
	l, err := m.waiter.Wait(ctx, m.eventQuery(EventChannelCreated, sender, receiver, nil, fromBlock))
	if err != nil {
		return nil, err
	}
	return m.parseCreated(*l)
}

// WaitToppedUp blocks until a ChannelToppedUp event for the channel is
// observed.
func (m *ChannelManager) WaitToppedUp(ctx context.Context, sender, receiver common.Address, openBlock uint32, fromBlock uint64) (*ChannelToppedUpEvent, error) {
	l, err := m.waiter.Wait(ctx, m.eventQuery(EventChannelToppedUp, sender, receiver, &openBlock, fromBlock))
	if err != nil {
		return nil, err
	}
	amount, err := m.unpackAmount(EventChannelToppedUp, *l)
	if err != nil {
		return nil, err
	}
	return &ChannelToppedUpEvent{
		Sender:       sender,
		Receiver:     receiver,
		OpenBlock:    openBlock,
		AddedDeposit: amount,
		Raw:          *l,
	}, nil
}

// WaitCloseRequested blocks until a ChannelCloseRequested event for the
// channel is observed.
func (m *ChannelManager) WaitCloseRequested(ctx context.Context, sender, receiver common.Address, openBlock uint32, fromBlock uint64) (*ChannelCloseRequestedEvent, error) {
	l, err := m.waiter.Wait(ctx, m.eventQuery(EventChannelCloseRequested, sender, receiver, &openBlock, fromBlock))
	if err != nil {
		return nil, err
	}
	balance, err := m.unpackAmount(EventChannelCloseRequested, *l)
	if err != nil {
		return nil, err
	}
	return &ChannelCloseRequestedEvent{
		Sender:    sender,
		Receiver:  receiver,
		OpenBlock: openBlock,
		Balance:   balance,
		Raw:       *l,
	}, nil
}

// WaitSettled blocks until a ChannelSettled event for the channel is
// observed.
func (m *ChannelManager) WaitSettled(ctx context.Context, sender, receiver common.Address, openBlock uint32, fromBlock uint64) (*ChannelSettledEvent, error) {
	l, err := m.waiter.Wait(ctx, m.eventQuery(EventChannelSettled, sender, receiver, &openBlock, fromBlock))
	if err != nil {
		return nil, err
	}
	balance, err := m.unpackAmount(EventChannelSettled, *l)
	if err != nil {
		return nil, err
	}
	return &ChannelSettledEvent{
		Sender:    sender,
		Receiver:  receiver,
		OpenBlock: openBlock,
		Balance:   balance,
		Raw:       *l,
	}, nil
}

func (m *ChannelManager) eventQuery(name string, sender, receiver common.Address, openBlock *uint32, fromBlock uint64) ethereum.FilterQuery {
	topics := [][]common.Hash{
		{m.abi.Events[name].ID},
		{common.BytesToHash(sender.Bytes())},
		{common.BytesToHash(receiver.Bytes())},
	}
	if openBlock != nil {
		topics = append(topics, []common.Hash{common.BigToHash(new(big.Int).SetUint64(uint64(*openBlock)))})
	}
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{m.addr},
		Topics:    topics,
	}
}

func (m *ChannelManager) parseCreated(l types.Log) (*ChannelCreatedEvent, error) {
	deposit, err := m.unpackAmount(EventChannelCreated, l)
	if err != nil {
		return nil, err
	}
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("malformed %s log: %d topics", EventChannelCreated, len(l.Topics))
	}
	return &ChannelCreatedEvent{
		Sender:   common.BytesToAddress(l.Topics[1].Bytes()),
		Receiver: common.BytesToAddress(l.Topics[2].Bytes()),
		Deposit:  deposit,
		Raw:      l,
	}, nil
}

// unpackAmount decodes the single non-indexed uint256 argument every
// manager event carries.
func (m *ChannelManager) unpackAmount(name string, l types.Log) (*big.Int, error) {
	vals, err := m.abi.Unpack(name, l.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s log: %w", name, err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decoding %s log: unexpected data type", name)
	}
	return amount, nil
}
