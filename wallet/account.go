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

package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an ECDSA signature in bytes, including
// the recovery id.
const SignatureLength = 65

var ErrInvalidSignature = errors.New("invalid signature length")

// Account holds the payer's private signing key and derived address. It is
// used for signing balance proofs and ledger transactions.
type Account struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAccount wraps an existing private key.
func NewAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewRandomAccount creates an account with a fresh private key.
func NewRandomAccount() (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewAccount(key), nil
}

// LoadAccount decrypts a keystore file with the password read from
// passwordFile.
func LoadAccount(keyFile, passwordFile string) (*Account, error) {
	keyJSON, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	password, err := os.ReadFile(passwordFile)
	if err != nil {
		return nil, fmt.Errorf("reading password file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, strings.TrimSpace(string(password)))
	if err != nil {
		return nil, fmt.Errorf("decrypting keystore: %w", err)
	}
	return NewAccount(key.PrivateKey), nil
}

// CreateAccount creates a new scrypt-encrypted keystore file under dir and
// returns its address and file path.
func CreateAccount(dir, password string) (common.Address, string, error) {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	acct, err := ks.NewAccount(password)
	if err != nil {
		return common.Address{}, "", err
	}
	return acct.Address, acct.URL.Path, nil
}

// Address returns the account's address.
func (a *Account) Address() common.Address {
	return a.address
}

// SignData signs the given data with the account's private key, prefixed
// per EIP-191. The returned signature carries v in {27, 28}.
func (a *Account) SignData(data []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(data), a.privateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignTx signs a ledger transaction for the given chain.
func (a *Account) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), a.privateKey)
}

// RecoverSigner returns the address that produced sig over data. It accepts
// signatures with v in {0, 1} as well as {27, 28}.
func RecoverSigner(data, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	s := make([]byte, SignatureLength)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(data), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether sig over data was produced by signer.
func VerifySignature(data, sig []byte, signer common.Address) (bool, error) {
	recovered, err := RecoverSigner(data, sig)
	if err != nil {
		return false, err
	}
	return recovered == signer, nil
}
