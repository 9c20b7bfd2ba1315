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

package client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/atnio/atn-client-go/wallet"
)

// FallbackGasLimit is used when the node cannot estimate gas for a call.
const FallbackGasLimit = uint64(250000)

// ContractBackend submits signed contract transactions and performs
// read-only calls against a ChainBackend on behalf of one account.
type ContractBackend struct {
	backend ChainBackend
	acc     *wallet.Account
	chainID *big.Int
	log     *logrus.Entry
}

// NewContractBackend binds an account to a chain backend. chainID is
// queried lazily if nil.
func NewContractBackend(backend ChainBackend, acc *wallet.Account, chainID *big.Int) *ContractBackend {
	return &ContractBackend{
		backend: backend,
		acc:     acc,
		chainID: chainID,
		log:     logrus.WithField("module", "client"),
	}
}

// Backend exposes the underlying chain backend.
func (cb *ContractBackend) Backend() ChainBackend {
	return cb.backend
}

// Account returns the signing account.
func (cb *ContractBackend) Account() *wallet.Account {
	return cb.acc
}

// ChainID returns the cached chain id, querying the node on first use.
func (cb *ContractBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if cb.chainID != nil {
		return cb.chainID, nil
	}
	id, err := cb.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying chain id: %w", err)
	}
	cb.chainID = id
	return id, nil
}

// Call performs a read-only contract call and returns the raw result.
func (cb *ContractBackend) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: cb.acc.Address(), To: &to, Data: data}
	return cb.backend.CallContract(ctx, msg, nil)
}

// SubmitTx builds, signs and submits a contract transaction carrying the
// given calldata and value. It returns as soon as the node accepted the
// transaction; confirmation is observed separately through event logs.
func (cb *ContractBackend) SubmitTx(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	from := cb.acc.Address()
	nonce, err := cb.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("querying nonce: %w", err)
	}
	gasPrice, err := cb.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying gas price: %w", err)
	}
	if value == nil {
		value = new(big.Int)
	}
	gasLimit, err := cb.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		cb.log.WithError(err).Debug("gas estimation failed, using fallback limit")
		gasLimit = FallbackGasLimit
	}
	chainID, err := cb.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := cb.acc.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	if err := cb.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("sending transaction: %w", err)
	}
	cb.log.WithFields(logrus.Fields{
		"tx":    signed.Hash().Hex(),
		"to":    to.Hex(),
		"nonce": nonce,
	}).Debug("transaction submitted")
	return signed, nil
}
