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

package test

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ConfirmManagerTxs installs a hook that emits the channel manager's
// confirmation event for every manager transaction as soon as it is mined,
// simulating a chain that confirms instantly. Tests exercising timeouts
// simply do not install it.
func ConfirmManagerTxs(m *MockChain, managerABI abi.ABI, manager common.Address) {
	signer := types.LatestSignerForChainID(m.chainID)
	m.OnTransaction(func(tx *types.Transaction, block uint64) {
		if tx.To() == nil || *tx.To() != manager || len(tx.Data()) < 4 {
			return
		}
		method, err := managerABI.MethodById(tx.Data()[:4])
		if err != nil {
			return
		}
		from, err := types.Sender(signer, tx)
		if err != nil {
			return
		}
		args, err := method.Inputs.Unpack(tx.Data()[4:])
		if err != nil {
			return
		}
		receiver, _ := args[0].(common.Address)
		senderTopic := common.BytesToHash(from.Bytes())
		receiverTopic := common.BytesToHash(receiver.Bytes())
		blockTopic := func(openBlock uint32) common.Hash {
			return common.BigToHash(new(big.Int).SetUint64(uint64(openBlock)))
		}
		emit := func(event string, topics []common.Hash, amount *big.Int) {
			data, err := managerABI.Events[event].Inputs.NonIndexed().Pack(amount)
			if err != nil {
				return
			}
			m.Emit(manager, block, append([]common.Hash{managerABI.Events[event].ID}, topics...), data)
		}

		switch method.Name {
		case "createChannel":
			emit("ChannelCreated", []common.Hash{senderTopic, receiverTopic}, tx.Value())
		case "topUp":
			openBlock := args[1].(uint32)
			emit("ChannelToppedUp", []common.Hash{senderTopic, receiverTopic, blockTopic(openBlock)}, tx.Value())
		case "uncooperativeClose":
			openBlock := args[1].(uint32)
			emit("ChannelCloseRequested", []common.Hash{senderTopic, receiverTopic, blockTopic(openBlock)}, args[2].(*big.Int))
		case "cooperativeClose":
			openBlock := args[1].(uint32)
			emit("ChannelSettled", []common.Hash{senderTopic, receiverTopic, blockTopic(openBlock)}, args[2].(*big.Int))
		case "settle":
			openBlock := args[1].(uint32)
			emit("ChannelSettled", []common.Hash{senderTopic, receiverTopic, blockTopic(openBlock)}, new(big.Int))
		}
	})
}
