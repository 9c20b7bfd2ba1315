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

// Package wire defines the HTTP wire surface shared with DBot servers:
// the payment headers attached to metered requests and the JSON bodies of
// the channel sync and close endpoints.
package wire

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Payment header names. The header set is the entire payment contract
// between client and DBot server.
const (
	HeaderContractAddress  = "ATN-Contract-Address"
	HeaderSenderAddress    = "ATN-Sender-Address"
	HeaderReceiverAddress  = "ATN-Receiver-Address"
	HeaderOpenBlock        = "ATN-Open-Block"
	HeaderBalance          = "ATN-Balance"
	HeaderBalanceSignature = "ATN-Balance-Signature"
)

// PaymentHeaders builds the header set for a metered request from the
// current channel state. The contract address is always present; the
// channel-specific fields are omitted when the caller has no channel.
func PaymentHeaders(contract common.Address, sender, receiver *common.Address, openBlock uint32, balance *big.Int, balanceSig []byte) http.Header {
	h := make(http.Header)
	h.Set(HeaderContractAddress, contract.Hex())
	if sender == nil || receiver == nil {
		return h
	}
	h.Set(HeaderSenderAddress, sender.Hex())
	h.Set(HeaderReceiverAddress, receiver.Hex())
	h.Set(HeaderOpenBlock, new(big.Int).SetUint64(uint64(openBlock)).String())
	h.Set(HeaderBalance, balance.String())
	h.Set(HeaderBalanceSignature, hexutil.Encode(balanceSig))
	return h
}
