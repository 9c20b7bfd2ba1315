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

package wire

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// DbotChannelInfo is the DBot server's view of a channel, returned by its
// channel sync endpoint. It is used only for convergence checking; payment
// authorization always rests on the client's own signed proofs.
type DbotChannelInfo struct {
	Deposit json.Number `json:"deposit"`
	Balance json.Number `json:"balance"`
}

// DepositBig returns the reported deposit as a big integer.
func (i *DbotChannelInfo) DepositBig() (*big.Int, error) {
	return parseAmount(i.Deposit)
}

// BalanceBig returns the reported balance as a big integer.
func (i *DbotChannelInfo) BalanceBig() (*big.Int, error) {
	return parseAmount(i.Balance)
}

func parseAmount(n json.Number) (*big.Int, error) {
	v, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", n.String())
	}
	return v, nil
}

// CloseSignatureResponse is the DBot server's answer to a cooperative
// close request: the receiver-side signature over the channel's balance,
// hex encoded.
type CloseSignatureResponse struct {
	CloseSignature string `json:"close_signature"`
}
