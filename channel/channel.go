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

// Package channel implements the payment channel state machine and balance
// proof protocol: locally signed balance updates, deposit topups and the
// close/settle paths against the channel manager contract.
package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/atnio/atn-client-go/client"
	"github.com/atnio/atn-client-go/contracts"
)

var (
	// ErrWrongState is returned when an operation is invoked in a
	// lifecycle state it is not defined for.
	ErrWrongState = errors.New("operation not allowed in current channel state")
	// ErrInsufficientFunds is returned when a balance update would exceed
	// the channel deposit.
	ErrInsufficientFunds = errors.New("insufficient channel capacity")
	// ErrInsufficientBalance is returned when the payer's on-chain account
	// cannot cover a topup.
	ErrInsufficientBalance = errors.New("insufficient account balance")
	// ErrNegativeAmount is returned for negative transfer or balance
	// values.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrInvalidClosingSig is returned when a cooperative-close signature
	// does not recover to the channel receiver or its owner.
	ErrInvalidClosingSig = errors.New("invalid closing signature")
	// ErrMissingOwnerHint is returned when the receiver is a contract and
	// no owner address was supplied to validate the closing signature.
	ErrMissingOwnerHint = errors.New("receiver is a contract, owner address required")
	// ErrSettlementPending signals that the challenge period has not
	// elapsed yet. The caller should retry later; no transaction was
	// submitted.
	ErrSettlementPending = errors.New("challenge period not over yet")
)

// State is a channel lifecycle state. Transitions are monotonic:
// Open -> Settling -> Closed via unilateral close and settlement, or
// Open -> Closed directly via cooperative close.
type State int

const (
	StateOpen State = iota
	StateSettling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSettling:
		return "settling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is one payment channel instance, identified by
// (sender, receiver, openBlock). It owns its balance/signature pair
// exclusively; all ledger-submitting operations block until the
// corresponding confirmation event is observed or the wait times out, in
// which case local state is left unchanged.
type Channel struct {
	cb  *client.ContractBackend
	mgr *contracts.ChannelManager

	sender    common.Address
	receiver  common.Address
	openBlock uint32

	deposit    *big.Int
	balance    *big.Int
	balanceSig []byte
	state      State

	onSettle func(*Channel)
	log      *logrus.Entry
}

// New creates a channel instance for a channel confirmed on chain at
// openBlock and signs the initial balance.
func New(cb *client.ContractBackend, mgr *contracts.ChannelManager, receiver common.Address, openBlock uint32, deposit, balance *big.Int) (*Channel, error) {
	return NewWithState(cb, mgr, receiver, openBlock, deposit, balance, StateOpen)
}

// NewWithState creates a channel instance in an explicit lifecycle state,
// as reconstructed from ledger records.
func NewWithState(cb *client.ContractBackend, mgr *contracts.ChannelManager, receiver common.Address, openBlock uint32, deposit, balance *big.Int, state State) (*Channel, error) {
	if deposit == nil {
		deposit = new(big.Int)
	}
	if balance == nil {
		balance = new(big.Int)
	}
	c := &Channel{
		cb:        cb,
		mgr:       mgr,
		sender:    cb.Account().Address(),
		receiver:  receiver,
		openBlock: openBlock,
		deposit:   new(big.Int).Set(deposit),
		balance:   new(big.Int),
		state:     state,
		onSettle:  func(*Channel) {},
	}
	c.log = logrus.WithFields(logrus.Fields{
		"module":     "channel",
		"sender":     c.sender.Hex(),
		"receiver":   c.receiver.Hex(),
		"open_block": c.openBlock,
	})
	if err := c.UpdateBalance(balance); err != nil {
		return nil, err
	}
	return c, nil
}

// OnSettle registers a callback invoked after a successful Settle.
func (c *Channel) OnSettle(fn func(*Channel)) {
	if fn == nil {
		fn = func(*Channel) {}
	}
	c.onSettle = fn
}

// Sender returns the paying party's address.
func (c *Channel) Sender() common.Address { return c.sender }

// Receiver returns the receiving party's address.
func (c *Channel) Receiver() common.Address { return c.receiver }

// OpenBlock returns the block number the channel was created at. It
// discriminates between reopened channels of the same pair.
func (c *Channel) OpenBlock() uint32 { return c.openBlock }

// Deposit returns the total funds locked into the channel.
func (c *Channel) Deposit() *big.Int { return new(big.Int).Set(c.deposit) }

// Balance returns the cumulative amount signed over to the receiver.
func (c *Channel) Balance() *big.Int { return new(big.Int).Set(c.balance) }

// BalanceSig returns the signature over the current balance.
func (c *Channel) BalanceSig() []byte {
	sig := make([]byte, len(c.balanceSig))
	copy(sig, c.balanceSig)
	return sig
}

// State returns the lifecycle state.
func (c *Channel) State() State { return c.state }

// RemainingBalance returns the spendable capacity, deposit - balance.
func (c *Channel) RemainingBalance() *big.Int {
	return new(big.Int).Sub(c.deposit, c.balance)
}

// Suitable reports whether the channel can still carry a transfer of value.
func (c *Channel) Suitable(value *big.Int) bool {
	return c.RemainingBalance().Cmp(value) >= 0
}

// Key returns the channel's identifying hash over
// (sender, receiver, openBlock).
func (c *Channel) Key() [32]byte {
	buf := make([]byte, 0, 44)
	buf = append(buf, c.sender.Bytes()...)
	buf = append(buf, c.receiver.Bytes()...)
	var block [4]byte
	binary.BigEndian.PutUint32(block[:], c.openBlock)
	buf = append(buf, block[:]...)
	var key [32]byte
	copy(key[:], crypto.Keccak256(buf))
	return key
}

// Valid reports whether the stored signature matches the current balance
// and the balance does not exceed the deposit.
func (c *Channel) Valid() bool {
	if c.balance.Cmp(c.deposit) > 0 {
		return false
	}
	signer, err := VerifyBalanceProof(c.receiver, c.openBlock, c.balance, c.mgr.Address(), c.balanceSig)
	return err == nil && signer == c.sender
}

// UpdateBalance sets the channel balance and recomputes the balance
// signature. The invariant 0 <= balance <= deposit is enforced here, at the
// lowest level: a violating update leaves balance and signature unchanged.
func (c *Channel) UpdateBalance(newBalance *big.Int) error {
	if newBalance.Sign() < 0 {
		return ErrNegativeAmount
	}
	if newBalance.Cmp(c.deposit) > 0 {
		return ErrInsufficientFunds
	}
	sig, err := SignBalanceProof(c.cb.Account(), c.receiver, c.openBlock, newBalance, c.mgr.Address())
	if err != nil {
		return err
	}
	c.balance = new(big.Int).Set(newBalance)
	c.balanceSig = sig
	return nil
}

// CreateTransfer increases the channel balance by value and signs the new
// balance. It is the only path that increases the balance. The returned
// signature supersedes all prior ones for this channel.
func (c *Channel) CreateTransfer(value *big.Int) ([]byte, error) {
	if value.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if c.state != StateOpen {
		c.log.Error("channel must be open to create a transfer")
		return nil, ErrWrongState
	}
	if !c.Suitable(value) {
		c.log.WithFields(logrus.Fields{
			"needed":    value,
			"available": c.RemainingBalance(),
			"deposit":   c.deposit,
		}).Error("insufficient funds on channel")
		return nil, ErrInsufficientFunds
	}
	c.log.WithField("value", value).Debug("signing new transfer")
	if err := c.UpdateBalance(new(big.Int).Add(c.balance, value)); err != nil {
		return nil, err
	}
	return c.BalanceSig(), nil
}

// TopUp increases the channel deposit by amount. It blocks until the
// ChannelToppedUp event is observed; the deposit is only incremented after
// confirmation, never optimistically.
func (c *Channel) TopUp(ctx context.Context, amount *big.Int) (*contracts.ChannelToppedUpEvent, error) {
	if c.state != StateOpen {
		c.log.Error("channel must be open to be topped up")
		return nil, ErrWrongState
	}
	if amount.Sign() <= 0 {
		return nil, ErrNegativeAmount
	}
	accountBalance, err := c.cb.Backend().BalanceAt(ctx, c.sender, nil)
	if err != nil {
		return nil, err
	}
	if accountBalance.Cmp(amount) < 0 {
		c.log.WithFields(logrus.Fields{
			"available": accountBalance,
			"needed":    amount,
		}).Error("insufficient funds for topup")
		return nil, ErrInsufficientBalance
	}

	c.log.WithField("amount", amount).Info("topping up channel")
	currentBlock, err := c.cb.Backend().BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.mgr.TopUp(ctx, c.receiver, c.openBlock, amount); err != nil {
		return nil, err
	}

	c.log.Debug("waiting for topup confirmation event")
	ev, err := c.mgr.WaitToppedUp(ctx, c.sender, c.receiver, c.openBlock, currentBlock+1)
	if err != nil {
		c.log.Error("no topup event received")
		return nil, err
	}
	c.deposit.Add(c.deposit, ev.AddedDeposit)
	c.log.WithField("block", ev.Raw.BlockNumber).Debug("topup confirmed")
	return ev, nil
}

// Close requests a unilateral close, starting the contract's challenge
// period. An explicit balance overrides the locally stored one before the
// request is submitted; the uncooperative fallback uses this to close at
// zero. On confirmation the channel transitions to Settling.
func (c *Channel) Close(ctx context.Context, balance *big.Int) (*contracts.ChannelCloseRequestedEvent, error) {
	if c.state != StateOpen {
		c.log.Error("channel must be open to request a close")
		return nil, ErrWrongState
	}
	if balance != nil {
		if err := c.UpdateBalance(balance); err != nil {
			return nil, err
		}
	}

	c.log.Info("requesting unilateral close")
	currentBlock, err := c.cb.Backend().BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.mgr.UncooperativeClose(ctx, c.receiver, c.openBlock, c.balance); err != nil {
		return nil, err
	}

	c.log.Debug("waiting for close confirmation event")
	ev, err := c.mgr.WaitCloseRequested(ctx, c.sender, c.receiver, c.openBlock, currentBlock+1)
	if err != nil {
		c.log.Error("no close event received")
		return nil, err
	}
	c.state = StateSettling
	c.log.WithField("block", ev.Raw.BlockNumber).Debug("close request confirmed")
	return ev, nil
}

// CloseCooperatively closes and settles the channel immediately using the
// receiver's closing signature over the current balance. When the receiver
// is itself a contract the signature must recover to owner instead. An
// invalid signature never submits a transaction.
func (c *Channel) CloseCooperatively(ctx context.Context, closingSig []byte, owner *common.Address) (*contracts.ChannelSettledEvent, error) {
	if c.state == StateClosed {
		c.log.Error("channel already closed")
		return nil, ErrWrongState
	}

	recovered, err := VerifyClosingSig(c.sender, c.openBlock, c.balance, c.mgr.Address(), closingSig)
	if err != nil {
		return nil, err
	}
	code, err := c.cb.Backend().CodeAt(ctx, c.receiver, nil)
	if err != nil {
		return nil, err
	}
	if len(code) > 0 {
		// Contract receiver: the closing signature is produced by its owner.
		if owner == nil {
			return nil, ErrMissingOwnerHint
		}
		if recovered != *owner {
			c.log.WithField("recovered", recovered.Hex()).Error("invalid closing signature")
			return nil, ErrInvalidClosingSig
		}
	} else if recovered != c.receiver {
		c.log.WithField("recovered", recovered.Hex()).Error("invalid closing signature")
		return nil, ErrInvalidClosingSig
	}

	c.log.Info("attempting cooperative close")
	currentBlock, err := c.cb.Backend().BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.mgr.CooperativeClose(ctx, c.receiver, c.openBlock, c.balance, c.balanceSig, closingSig); err != nil {
		return nil, err
	}

	c.log.Debug("waiting for settle confirmation event")
	ev, err := c.mgr.WaitSettled(ctx, c.sender, c.receiver, c.openBlock, currentBlock+1)
	if err != nil {
		c.log.Error("no settle event received")
		return nil, err
	}
	c.state = StateClosed
	c.log.WithField("block", ev.Raw.BlockNumber).Debug("cooperative close confirmed")
	return ev, nil
}

// Settle finalizes a unilaterally closed channel after the challenge
// period. Before the contract's settlement block it returns
// ErrSettlementPending without submitting anything; callers retry later.
func (c *Channel) Settle(ctx context.Context) (*contracts.ChannelSettledEvent, error) {
	if c.state != StateSettling {
		c.log.Error("channel must be in the settlement period to settle")
		return nil, ErrWrongState
	}

	info, err := c.mgr.GetChannelInfo(ctx, c.sender, c.receiver, c.openBlock)
	if err != nil {
		return nil, err
	}
	currentBlock, err := c.cb.Backend().BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if currentBlock < uint64(info.SettleBlock) {
		c.log.WithField("blocks_remaining", uint64(info.SettleBlock)-currentBlock).
			Warn("channel cannot be settled yet")
		return nil, ErrSettlementPending
	}

	c.log.Info("attempting to settle channel")
	if _, err := c.mgr.Settle(ctx, c.receiver, c.openBlock); err != nil {
		return nil, err
	}

	c.log.Debug("waiting for settle confirmation event")
	ev, err := c.mgr.WaitSettled(ctx, c.sender, c.receiver, c.openBlock, currentBlock+1)
	if err != nil {
		c.log.Error("no settle event received")
		return nil, err
	}
	c.state = StateClosed
	c.onSettle(c)
	c.log.WithField("block", ev.Raw.BlockNumber).Debug("settle confirmed")
	return ev, nil
}
