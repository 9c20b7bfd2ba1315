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

package channel

import "math/big"

// DepositStrategy decides how much to lock into a channel for a given
// endpoint price. Separate strategies may be used for the initial deposit
// on open and for topups.
type DepositStrategy interface {
	Deposit(price *big.Int) *big.Int
}

// MultiplierStrategy deposits a fixed multiple of the price.
type MultiplierStrategy struct {
	Factor int64
}

// NewMultiplierStrategy returns a strategy depositing factor * price.
func NewMultiplierStrategy(factor int64) MultiplierStrategy {
	return MultiplierStrategy{Factor: factor}
}

func (s MultiplierStrategy) Deposit(price *big.Int) *big.Int {
	return new(big.Int).Mul(price, big.NewInt(s.Factor))
}

// FixedStrategy deposits a fixed amount regardless of the price.
type FixedStrategy struct {
	Amount *big.Int
}

// NewFixedStrategy returns a strategy always depositing amount.
func NewFixedStrategy(amount *big.Int) FixedStrategy {
	return FixedStrategy{Amount: new(big.Int).Set(amount)}
}

func (s FixedStrategy) Deposit(*big.Int) *big.Int {
	return new(big.Int).Set(s.Amount)
}

// DefaultDepositStrategy deposits ten times the price, leaving headroom for
// several calls before the next topup.
var DefaultDepositStrategy DepositStrategy = NewMultiplierStrategy(10)
