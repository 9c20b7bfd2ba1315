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

package channel_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atnio/atn-client-go/channel"
)

func TestMultiplierStrategy(t *testing.T) {
	s := channel.NewMultiplierStrategy(10)
	require.Equal(t, big.NewInt(1000), s.Deposit(big.NewInt(100)))
}

func TestFixedStrategy(t *testing.T) {
	s := channel.NewFixedStrategy(big.NewInt(5000))
	require.Equal(t, big.NewInt(5000), s.Deposit(big.NewInt(100)))
	require.Equal(t, big.NewInt(5000), s.Deposit(big.NewInt(999)))
}

func TestDefaultDepositStrategy(t *testing.T) {
	require.Equal(t, big.NewInt(420), channel.DefaultDepositStrategy.Deposit(big.NewInt(42)))
}
