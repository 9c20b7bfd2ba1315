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

// Package atn implements the payment orchestrator: it turns a priced DBot
// API call into a channel with sufficient signed capacity and performs the
// metered HTTP request, and it drives cooperative channel closure with a
// unilateral fallback.
package atn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/atnio/atn-client-go/channel"
	"github.com/atnio/atn-client-go/client"
	"github.com/atnio/atn-client-go/contracts"
	"github.com/atnio/atn-client-go/wallet"
	"github.com/atnio/atn-client-go/wire"
)

const (
	// DefaultSyncRetries bounds how often the DBot server is polled for a
	// converged channel view.
	DefaultSyncRetries = 5
	// DefaultSyncInterval is the fixed delay between sync polls.
	DefaultSyncInterval = 5 * time.Second
)

var (
	// ErrNoChannel is returned when no channel exists with the DBot.
	ErrNoChannel = errors.New("no channel with this DBot")
	// ErrSyncTimeout is returned when the DBot server's channel view did
	// not converge with the on-chain state within the retry budget. No
	// payment may be attempted against an unsynced channel.
	ErrSyncTimeout = errors.New("DBot server did not sync the channel state")
)

// Option configures an Atn client.
type Option func(*Atn)

// WithDepositStrategies sets the strategies used for the initial deposit
// on channel open and for topups.
func WithDepositStrategies(initial, topup channel.DepositStrategy) Option {
	return func(a *Atn) {
		a.initialDeposit = initial
		a.topupDeposit = topup
	}
}

// WithoutDepositStrategy disables automatic channel provisioning. Paid
// calls then require an existing channel with sufficient capacity.
func WithoutDepositStrategy() Option {
	return func(a *Atn) {
		a.initialDeposit = nil
		a.topupDeposit = nil
	}
}

// WithHTTPClient replaces the HTTP client used to reach DBot servers.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Atn) { a.httpClient = c }
}

// WithSyncPolicy overrides the remote-sync retry budget and poll interval.
func WithSyncPolicy(retries int, interval time.Duration) Option {
	return func(a *Atn) {
		a.syncRetries = retries
		a.syncInterval = interval
	}
}

// WithEventWaiter overrides the polling interval and timeout for on-chain
// confirmation waits.
func WithEventWaiter(interval, timeout time.Duration) Option {
	return func(a *Atn) {
		a.mgr.UseWaiter(client.NewEventWaiter(a.cb.Backend(), interval, timeout))
	}
}

// Atn is the payment client. One instance drives channels of a single
// payer account; channels with different DBots are independent.
type Atn struct {
	cb  *client.ContractBackend
	mgr *contracts.ChannelManager
	dir *channel.Directory

	httpClient     *http.Client
	initialDeposit channel.DepositStrategy
	topupDeposit   channel.DepositStrategy
	syncRetries    int
	syncInterval   time.Duration

	dbots map[common.Address]*contracts.Dbot
	log   *logrus.Entry
}

// New creates a payment client over an existing chain backend. The default
// deposit strategy locks ten times the endpoint price.
func New(backend client.ChainBackend, acc *wallet.Account, manager common.Address, opts ...Option) (*Atn, error) {
	cb := client.NewContractBackend(backend, acc, nil)
	mgr, err := contracts.NewChannelManager(cb, manager)
	if err != nil {
		return nil, err
	}
	a := &Atn{
		cb:             cb,
		mgr:            mgr,
		dir:            channel.NewDirectory(cb, mgr),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		initialDeposit: channel.DefaultDepositStrategy,
		topupDeposit:   channel.DefaultDepositStrategy,
		syncRetries:    DefaultSyncRetries,
		syncInterval:   DefaultSyncInterval,
		dbots:          make(map[common.Address]*contracts.Dbot),
		log:            logrus.WithField("module", "atn"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Dial connects to a ledger node, loads the payer account from a keystore
// file and creates a payment client.
func Dial(ctx context.Context, rpcURL, keyFile, passwordFile string, manager common.Address, opts ...Option) (*Atn, error) {
	acc, err := wallet.LoadAccount(keyFile, passwordFile)
	if err != nil {
		return nil, err
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}
	return New(ec, acc, manager, opts...)
}

// Address returns the payer's account address.
func (a *Atn) Address() common.Address {
	return a.cb.Account().Address()
}

// AccountBalance returns the payer's on-chain account balance.
func (a *Atn) AccountBalance(ctx context.Context) (*big.Int, error) {
	return a.cb.Backend().BalanceAt(ctx, a.Address(), nil)
}

// GetDbotName returns the DBot's registered name.
func (a *Atn) GetDbotName(ctx context.Context, dbot common.Address) (string, error) {
	d, err := a.dbot(dbot)
	if err != nil {
		return "", err
	}
	return d.Name(ctx)
}

// GetDbotDomain returns the DBot server's HTTP origin.
func (a *Atn) GetDbotDomain(ctx context.Context, dbot common.Address) (string, error) {
	d, err := a.dbot(dbot)
	if err != nil {
		return "", err
	}
	return d.Domain(ctx)
}

// GetDbotOwner returns the owner of the DBot contract.
func (a *Atn) GetDbotOwner(ctx context.Context, dbot common.Address) (common.Address, error) {
	d, err := a.dbot(dbot)
	if err != nil {
		return common.Address{}, err
	}
	return d.Owner(ctx)
}

// GetPrice returns the on-chain price of the DBot endpoint in wei.
func (a *Atn) GetPrice(ctx context.Context, dbot common.Address, uri, method string) (*big.Int, error) {
	d, err := a.dbot(dbot)
	if err != nil {
		return nil, err
	}
	return d.Price(ctx, uri, method)
}

// GetChannel returns the active channel with the DBot, or ErrNoChannel.
func (a *Atn) GetChannel(ctx context.Context, dbot common.Address) (*channel.Channel, error) {
	channels, err := a.dir.Channels(ctx, dbot)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, ErrNoChannel
	}
	return channels[0], nil
}

// OpenChannel opens a channel with the DBot, locking deposit. If a channel
// already exists it is returned unchanged. Blocks until the creation event
// is observed.
func (a *Atn) OpenChannel(ctx context.Context, dbot common.Address, deposit *big.Int) (*channel.Channel, error) {
	ch, err := a.GetChannel(ctx, dbot)
	if err == nil {
		a.log.Warn("a channel already exists, not opening another one")
		return ch, nil
	}
	if !errors.Is(err, ErrNoChannel) {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"dbot":    dbot.Hex(),
		"deposit": deposit,
	}).Info("opening channel")
	currentBlock, err := a.cb.Backend().BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := a.mgr.CreateChannel(ctx, dbot, deposit); err != nil {
		return nil, err
	}
	ev, err := a.mgr.WaitCreated(ctx, a.Address(), dbot, currentBlock+1)
	if err != nil {
		return nil, err
	}
	return channel.New(a.cb, a.mgr, dbot, uint32(ev.Raw.BlockNumber), ev.Deposit, nil)
}

// TopupChannel increases the deposit of the existing channel with the
// DBot. Blocks until the topup event is observed.
func (a *Atn) TopupChannel(ctx context.Context, dbot common.Address, amount *big.Int) (*channel.Channel, error) {
	ch, err := a.GetChannel(ctx, dbot)
	if err != nil {
		return nil, err
	}
	if _, err := ch.TopUp(ctx, amount); err != nil {
		return nil, err
	}
	return ch, nil
}

// CloseChannel closes the channel with the DBot. It first syncs with the
// DBot server and requests a cooperative close signature over the current
// balance; on any failure it falls back to a unilateral close at balance
// zero, forfeiting unconfirmed balance rather than disputing it.
func (a *Atn) CloseChannel(ctx context.Context, dbot common.Address) error {
	ch, err := a.GetChannel(ctx, dbot)
	if err != nil {
		return fmt.Errorf("no channel to close: %w", err)
	}
	if err := a.waitDbotSync(ctx, dbot, ch); err != nil {
		a.log.WithError(err).Error("DBot server cannot sync the channel")
		return a.closeDenied(ctx, ch)
	}

	sig, err := a.requestClosingSig(ctx, dbot, ch)
	if err != nil {
		a.log.WithError(err).Error("could not obtain closing signature")
		return a.closeDenied(ctx, ch)
	}
	owner, err := a.GetDbotOwner(ctx, dbot)
	if err != nil {
		a.log.WithError(err).Error("could not resolve DBot owner")
		return a.closeDenied(ctx, ch)
	}
	if _, err := ch.CloseCooperatively(ctx, sig, &owner); err != nil {
		a.log.WithError(err).Error("cooperative close failed")
		return a.closeDenied(ctx, ch)
	}
	a.log.Info("channel closed cooperatively")
	return nil
}

// closeDenied is the fallback when no valid closing signature could be
// obtained: close unilaterally on a balance of 0.
func (a *Atn) closeDenied(ctx context.Context, ch *channel.Channel) error {
	a.log.Warn("no valid closing signature received, closing noncooperatively on a balance of 0")
	if _, err := ch.Close(ctx, new(big.Int)); err != nil {
		return fmt.Errorf("unilateral close failed: %w", err)
	}
	return nil
}

// UncooperativeCloseChannel unilaterally closes the channel with the DBot
// at the given balance, starting the challenge period.
func (a *Atn) UncooperativeCloseChannel(ctx context.Context, dbot common.Address, balance *big.Int) error {
	ch, err := a.GetChannel(ctx, dbot)
	if err != nil {
		return fmt.Errorf("no channel to close: %w", err)
	}
	_, err = ch.Close(ctx, balance)
	return err
}

// SettleChannel settles a unilaterally closed channel after the challenge
// period, releasing the remaining deposit.
func (a *Atn) SettleChannel(ctx context.Context, dbot common.Address) error {
	ch, err := a.GetChannel(ctx, dbot)
	if err != nil {
		return fmt.Errorf("no channel to settle: %w", err)
	}
	_, err = ch.Settle(ctx)
	return err
}

// WaitDbotSync blocks until the DBot server's channel view matches the
// on-chain deposit, then adopts the server's balance as the channel
// balance. The server holds the most recent confirmed balance proof.
func (a *Atn) WaitDbotSync(ctx context.Context, dbot common.Address) error {
	ch, err := a.GetChannel(ctx, dbot)
	if errors.Is(err, ErrNoChannel) {
		a.log.WithField("dbot", dbot.Hex()).Warn("no channel with DBot on chain")
		return nil
	}
	if err != nil {
		return err
	}
	return a.waitDbotSync(ctx, dbot, ch)
}

func (a *Atn) waitDbotSync(ctx context.Context, dbot common.Address, ch *channel.Channel) error {
	deposit := ch.Deposit()
	for attempt := 0; ; attempt++ {
		info, err := a.getDbotChannel(ctx, dbot, ch)
		if err != nil {
			a.log.WithError(err).Warn("querying DBot channel info failed")
		} else if info != nil {
			remoteDeposit, err := info.DepositBig()
			if err != nil {
				return fmt.Errorf("malformed DBot channel info: %w", err)
			}
			if remoteDeposit.Cmp(deposit) == 0 {
				remoteBalance, err := info.BalanceBig()
				if err != nil {
					return fmt.Errorf("malformed DBot channel info: %w", err)
				}
				return ch.UpdateBalance(remoteBalance)
			}
		}
		if attempt >= a.syncRetries {
			return ErrSyncTimeout
		}
		a.log.WithFields(logrus.Fields{
			"dbot":  dbot.Hex(),
			"retry": a.syncInterval,
		}).Info("channel state not yet synced by DBot server")
		select {
		case <-ctx.Done():
			return ErrSyncTimeout
		case <-time.After(a.syncInterval):
		}
	}
}

// CallDbotAPI performs the priced API call. It provisions a suitable
// channel, signs a transfer over the endpoint price and issues the HTTP
// request with payment headers attached. Extra headers are applied on top
// of the payment headers.
func (a *Atn) CallDbotAPI(ctx context.Context, dbot common.Address, uri, method string, body io.Reader, extra http.Header) (*http.Response, error) {
	price, err := a.GetPrice(ctx, dbot, uri, method)
	if err != nil {
		return nil, err
	}
	ch, err := a.GetSuitableChannel(ctx, dbot, price)
	if err != nil {
		return nil, err
	}
	if _, err := ch.CreateTransfer(price); err != nil {
		return nil, err
	}

	base, err := a.dbotBaseURL(ctx, dbot)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/call/%s/%s", base, dbot.Hex(), strings.TrimPrefix(uri, "/"))
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, err
	}
	sender, receiver := ch.Sender(), ch.Receiver()
	req.Header = wire.PaymentHeaders(a.mgr.Address(), &sender, &receiver, ch.OpenBlock(), ch.Balance(), ch.BalanceSig())
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return a.httpClient.Do(req)
}

// GetSuitableChannel finds or provisions a channel that can carry a
// transfer of price. Without a deposit strategy an existing, sufficiently
// funded channel is required.
func (a *Atn) GetSuitableChannel(ctx context.Context, dbot common.Address, price *big.Int) (*channel.Channel, error) {
	if a.initialDeposit == nil {
		ch, err := a.GetChannel(ctx, dbot)
		if err != nil {
			return nil, fmt.Errorf("create a channel first: %w", err)
		}
		if !ch.Suitable(price) {
			return nil, fmt.Errorf("top up the channel first (remaining balance %s): %w",
				ch.RemainingBalance(), channel.ErrInsufficientFunds)
		}
		return ch, nil
	}

	ch, err := a.GetChannel(ctx, dbot)
	if errors.Is(err, ErrNoChannel) {
		ch, err = a.OpenChannel(ctx, dbot, a.initialDeposit.Deposit(price))
	}
	if err != nil {
		return nil, err
	}
	if err := a.waitDbotSync(ctx, dbot, ch); err != nil {
		return nil, err
	}
	if !ch.Suitable(price) {
		if _, err := ch.TopUp(ctx, a.topupDeposit.Deposit(price)); err != nil {
			return nil, err
		}
		if err := a.waitDbotSync(ctx, dbot, ch); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// getDbotChannel fetches the DBot server's view of the channel. A non-200
// answer means the server does not know the channel yet and is reported as
// a nil info, not an error.
func (a *Atn) getDbotChannel(ctx context.Context, dbot common.Address, ch *channel.Channel) (*wire.DbotChannelInfo, error) {
	base, err := a.dbotBaseURL(ctx, dbot)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v1/dbots/%s/channels/%s/%d",
		base, ch.Receiver().Hex(), ch.Sender().Hex(), ch.OpenBlock())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var info wire.DbotChannelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding DBot channel info: %w", err)
	}
	return &info, nil
}

// requestClosingSig asks the DBot server to co-sign a close at the
// channel's current balance.
func (a *Atn) requestClosingSig(ctx context.Context, dbot common.Address, ch *channel.Channel) ([]byte, error) {
	base, err := a.dbotBaseURL(ctx, dbot)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v1/channels/%s/%s/%d?balance=%s",
		base, ch.Receiver().Hex(), ch.Sender().Hex(), ch.OpenBlock(), ch.Balance())
	a.log.WithField("balance", ch.Balance()).Debug("requesting closing signature from DBot server")
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DBot server denied the close: status %d", resp.StatusCode)
	}
	var body wire.CloseSignatureResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding close response: %w", err)
	}
	raw := body.CloseSignature
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	return hexutil.Decode(raw)
}

// dbotBaseURL resolves the DBot server's base URL from its on-chain domain
// record, defaulting to plain HTTP for host-only records.
func (a *Atn) dbotBaseURL(ctx context.Context, dbot common.Address) (string, error) {
	domain, err := a.GetDbotDomain(ctx, dbot)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(strings.ToLower(domain), "http") {
		domain = "http://" + domain
	}
	return strings.TrimRight(domain, "/"), nil
}

func (a *Atn) dbot(addr common.Address) (*contracts.Dbot, error) {
	if d, ok := a.dbots[addr]; ok {
		return d, nil
	}
	d, err := contracts.NewDbot(a.cb, addr)
	if err != nil {
		return nil, err
	}
	a.dbots[addr] = d
	return d, nil
}
