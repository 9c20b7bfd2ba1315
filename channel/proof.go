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

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/atnio/atn-client-go/wallet"
)

// BalanceProofHash computes the digest a sender signs to attest that the
// receiver has earned balance on the channel opened at openBlock. The
// manager address binds the proof to one contract deployment.
func BalanceProofHash(receiver common.Address, openBlock uint32, balance *big.Int, manager common.Address) []byte {
	return proofHash(receiver, openBlock, balance, manager)
}

// ClosingSigHash computes the digest the receiver signs to agree to a
// cooperative close at balance.
func ClosingSigHash(sender common.Address, openBlock uint32, balance *big.Int, manager common.Address) []byte {
	return proofHash(sender, openBlock, balance, manager)
}

func proofHash(party common.Address, openBlock uint32, balance *big.Int, manager common.Address) []byte {
	buf := make([]byte, 0, 76)
	buf = append(buf, party.Bytes()...)
	var block [4]byte
	binary.BigEndian.PutUint32(block[:], openBlock)
	buf = append(buf, block[:]...)
	buf = append(buf, common.BigToHash(balance).Bytes()...)
	buf = append(buf, manager.Bytes()...)
	return crypto.Keccak256(buf)
}

// SignBalanceProof signs a balance proof with the sender's account.
func SignBalanceProof(acc *wallet.Account, receiver common.Address, openBlock uint32, balance *big.Int, manager common.Address) ([]byte, error) {
	return acc.SignData(BalanceProofHash(receiver, openBlock, balance, manager))
}

// VerifyBalanceProof recovers the address that signed the given balance
// proof.
func VerifyBalanceProof(receiver common.Address, openBlock uint32, balance *big.Int, manager common.Address, sig []byte) (common.Address, error) {
	return wallet.RecoverSigner(BalanceProofHash(receiver, openBlock, balance, manager), sig)
}

// SignClosingSig signs a cooperative-close agreement with the receiver's
// (or receiving contract owner's) account.
func SignClosingSig(acc *wallet.Account, sender common.Address, openBlock uint32, balance *big.Int, manager common.Address) ([]byte, error) {
	return acc.SignData(ClosingSigHash(sender, openBlock, balance, manager))
}

// VerifyClosingSig recovers the address that signed a cooperative-close
// agreement.
func VerifyClosingSig(sender common.Address, openBlock uint32, balance *big.Int, manager common.Address, sig []byte) (common.Address, error) {
	return wallet.RecoverSigner(ClosingSigHash(sender, openBlock, balance, manager), sig)
}
