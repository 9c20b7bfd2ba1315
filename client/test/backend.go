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

// Package test provides an in-memory ledger fixture implementing
// client.ChainBackend for the package tests. Contract calls are dispatched
// to ABI-aware handlers, submitted transactions are mined instantly and
// event logs are matched the way a node's log filter would.
package test

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallHandler answers a read-only contract call with unpacked inputs and
// to-be-packed outputs.
type CallHandler func(args []interface{}) ([]interface{}, error)

// TxHook observes a transaction right after it was mined.
type TxHook func(tx *types.Transaction, block uint64)

// MockChain is an in-memory ChainBackend.
type MockChain struct {
	mu          sync.Mutex
	chainID     *big.Int
	blockNumber uint64
	balances    map[common.Address]*big.Int
	code        map[common.Address][]byte
	nonces      map[common.Address]uint64
	abis        map[common.Address]abi.ABI
	handlers    map[common.Address]map[string]CallHandler
	logs        []types.Log
	txs         []*types.Transaction
	txHooks     []TxHook
}

// NewMockChain creates a chain at block 100 with chain id 1337.
func NewMockChain() *MockChain {
	return &MockChain{
		chainID:     big.NewInt(1337),
		blockNumber: 100,
		balances:    make(map[common.Address]*big.Int),
		code:        make(map[common.Address][]byte),
		nonces:      make(map[common.Address]uint64),
		abis:        make(map[common.Address]abi.ABI),
		handlers:    make(map[common.Address]map[string]CallHandler),
	}
}

// Bind registers a contract interface at addr so calls can be dispatched
// by method name.
func (m *MockChain) Bind(addr common.Address, contractABI abi.ABI) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abis[addr] = contractABI
	if m.handlers[addr] == nil {
		m.handlers[addr] = make(map[string]CallHandler)
	}
}

// Handle installs a read-only call handler for a bound contract method.
func (m *MockChain) Handle(addr common.Address, method string, h CallHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[addr][method] = h
}

// SetBalance sets an account balance.
func (m *MockChain) SetBalance(addr common.Address, balance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = new(big.Int).Set(balance)
}

// SetCode marks addr as a contract account.
func (m *MockChain) SetCode(addr common.Address, code []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code[addr] = code
}

// SetBlockNumber moves the chain head.
func (m *MockChain) SetBlockNumber(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockNumber = n
}

// OnTransaction registers a hook invoked for every mined transaction.
func (m *MockChain) OnTransaction(h TxHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txHooks = append(m.txHooks, h)
}

// SentTransactions returns all transactions submitted so far.
func (m *MockChain) SentTransactions() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Transaction, len(m.txs))
	copy(out, m.txs)
	return out
}

// Emit appends an event log at the given block.
func (m *MockChain) Emit(addr common.Address, block uint64, topics []common.Hash, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, types.Log{
		Address:     addr,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
	})
}

// ChainID implements client.ChainBackend.
func (m *MockChain) ChainID(context.Context) (*big.Int, error) {
	return m.chainID, nil
}

// BlockNumber implements client.ChainBackend.
func (m *MockChain) BlockNumber(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockNumber, nil
}

// BalanceAt implements client.ChainBackend.
func (m *MockChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// CodeAt implements client.ChainBackend.
func (m *MockChain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code[account], nil
}

// PendingNonceAt implements client.ChainBackend.
func (m *MockChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[account], nil
}

// SuggestGasPrice implements client.ChainBackend.
func (m *MockChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// EstimateGas implements client.ChainBackend.
func (m *MockChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

// CallContract implements client.ChainBackend by dispatching to the
// registered handler for the called method.
func (m *MockChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil {
		return nil, errors.New("contract creation calls unsupported")
	}
	m.mu.Lock()
	contractABI, bound := m.abis[*call.To]
	handlers := m.handlers[*call.To]
	m.mu.Unlock()
	if !bound {
		return nil, errors.New("execution reverted: no contract at address")
	}
	if len(call.Data) < 4 {
		return nil, errors.New("calldata too short")
	}
	method, err := contractABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	h, ok := handlers[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	out, err := h(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

// SendTransaction implements client.ChainBackend. The transaction is mined
// into a fresh block immediately and the registered hooks run.
func (m *MockChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	m.txs = append(m.txs, tx)
	m.blockNumber++
	block := m.blockNumber
	signer := types.LatestSignerForChainID(m.chainID)
	if from, err := types.Sender(signer, tx); err == nil {
		m.nonces[from]++
	}
	hooks := make([]TxHook, len(m.txHooks))
	copy(hooks, m.txHooks)
	m.mu.Unlock()
	for _, h := range hooks {
		h(tx, block)
	}
	return nil
}

// FilterLogs implements client.ChainBackend with positional topic
// matching.
func (m *MockChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Log
	for _, l := range m.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if !topicsMatch(q.Topics, l.Topics) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func containsAddress(addrs []common.Address, a common.Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}

func topicsMatch(want [][]common.Hash, have []common.Hash) bool {
	if len(want) > len(have) {
		return false
	}
	for i, alternatives := range want {
		if len(alternatives) == 0 {
			continue
		}
		matched := false
		for _, alt := range alternatives {
			if have[i] == alt {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
