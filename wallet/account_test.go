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

package wallet_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atnio/atn-client-go/wallet"
)

func TestSignDataRoundTrip(t *testing.T) {
	acc, err := wallet.NewRandomAccount()
	require.NoError(t, err)

	msg := []byte("pls sign me")
	sig, err := acc.SignData(msg)
	require.NoError(t, err)
	require.Len(t, sig, wallet.SignatureLength)

	valid, err := wallet.VerifySignature(msg, sig, acc.Address())
	require.NoError(t, err)
	require.True(t, valid)

	recovered, err := wallet.RecoverSigner(msg, sig)
	require.NoError(t, err)
	require.Equal(t, acc.Address(), recovered)
}

func TestVerifySignatureRejectsTamperedData(t *testing.T) {
	acc, err := wallet.NewRandomAccount()
	require.NoError(t, err)

	sig, err := acc.SignData([]byte("original"))
	require.NoError(t, err)

	valid, err := wallet.VerifySignature([]byte("tampered"), sig, acc.Address())
	require.NoError(t, err)
	require.False(t, valid)
}

func TestRecoverSignerRejectsShortSignature(t *testing.T) {
	_, err := wallet.RecoverSigner([]byte("msg"), []byte{1, 2, 3})
	require.ErrorIs(t, err, wallet.ErrInvalidSignature)
}

func TestCreateAndLoadAccount(t *testing.T) {
	dir := t.TempDir()
	const password = "test-password"

	addr, keyFile, err := wallet.CreateAccount(dir, password)
	require.NoError(t, err)
	require.FileExists(t, keyFile)

	passwordFile := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte(password+"\n"), 0o600))

	acc, err := wallet.LoadAccount(keyFile, passwordFile)
	require.NoError(t, err)
	require.Equal(t, addr, acc.Address())
}

func TestLoadAccountWrongPassword(t *testing.T) {
	dir := t.TempDir()

	_, keyFile, err := wallet.CreateAccount(dir, "correct")
	require.NoError(t, err)

	passwordFile := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte("wrong"), 0o600))

	_, err = wallet.LoadAccount(keyFile, passwordFile)
	require.Error(t, err)
}
