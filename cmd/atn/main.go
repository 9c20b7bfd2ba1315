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

// Command atn is a command line payment client for DBot services: it
// manages the payer account, drives payment channels with DBots and
// performs paid API calls.
package main

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/atnio/atn-client-go/atn"
	"github.com/atnio/atn-client-go/wallet"
)

var (
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Value: "http://127.0.0.1:8545",
		Usage: "ledger node RPC endpoint",
	}
	keyFlag = &cli.StringFlag{
		Name:     "key",
		Required: true,
		Usage:    "keystore file of the payer account",
	}
	passwordFlag = &cli.StringFlag{
		Name:     "password",
		Required: true,
		Usage:    "file holding the keystore password",
	}
	managerFlag = &cli.StringFlag{
		Name:     "manager",
		Required: true,
		Usage:    "channel manager contract address",
	}
	dbotFlag = &cli.StringFlag{
		Name:     "dbot",
		Required: true,
		Usage:    "DBot contract address",
	}
)

func main() {
	app := &cli.App{
		Name:  "atn",
		Usage: "micropayment client for DBot services",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			createAccountCommand(),
			balanceCommand(),
			infoCommand(),
			callCommand(),
			openCommand(),
			topupCommand(),
			closeCommand(),
			settleCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func createAccountCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-account",
		Usage: "create a new keystore account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "keystore", Value: "keystore", Usage: "keystore directory"},
			passwordFlag,
		},
		Action: func(c *cli.Context) error {
			password, err := os.ReadFile(c.String("password"))
			if err != nil {
				return err
			}
			addr, keyFile, err := wallet.CreateAccount(c.String("keystore"), strings.TrimSpace(string(password)))
			if err != nil {
				return err
			}
			fmt.Printf("address: %s\nkey file: %s\n", addr.Hex(), keyFile)
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "show the payer's on-chain account balance",
		Flags: []cli.Flag{rpcFlag, keyFlag, passwordFlag, managerFlag},
		Action: func(c *cli.Context) error {
			a, err := dial(c)
			if err != nil {
				return err
			}
			balance, err := a.AccountBalance(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("account: %s\nbalance: %s\n", a.Address().Hex(), balance)
			return nil
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "show the DBot and the channel with it",
		Flags: []cli.Flag{rpcFlag, keyFlag, passwordFlag, managerFlag, dbotFlag},
		Action: func(c *cli.Context) error {
			a, err := dial(c)
			if err != nil {
				return err
			}
			dbot, err := dbotAddress(c)
			if err != nil {
				return err
			}
			name, err := a.GetDbotName(c.Context, dbot)
			if err != nil {
				return err
			}
			domain, err := a.GetDbotDomain(c.Context, dbot)
			if err != nil {
				return err
			}
			fmt.Printf("dbot: %s\nname: %s\ndomain: %s\n", dbot.Hex(), name, domain)

			ch, err := a.GetChannel(c.Context, dbot)
			if err != nil {
				fmt.Println("channel: none")
				return nil
			}
			fmt.Printf("channel: open block %d, state %s\ndeposit: %s\nbalance: %s\nremaining: %s\n",
				ch.OpenBlock(), ch.State(), ch.Deposit(), ch.Balance(), ch.RemainingBalance())
			return nil
		},
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:  "call",
		Usage: "perform a paid DBot API call",
		Flags: []cli.Flag{
			rpcFlag, keyFlag, passwordFlag, managerFlag, dbotFlag,
			&cli.StringFlag{Name: "uri", Required: true, Usage: "endpoint uri, e.g. /api/v1/weather"},
			&cli.StringFlag{Name: "method", Value: "GET", Usage: "HTTP method"},
			&cli.StringFlag{Name: "data", Usage: "request body"},
		},
		Action: func(c *cli.Context) error {
			a, err := dial(c)
			if err != nil {
				return err
			}
			dbot, err := dbotAddress(c)
			if err != nil {
				return err
			}
			var body io.Reader
			if data := c.String("data"); data != "" {
				body = strings.NewReader(data)
			}
			resp, err := a.CallDbotAPI(c.Context, dbot, c.String("uri"), c.String("method"), body, nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Printf("status: %s\n%s\n", resp.Status, out)
			return nil
		},
	}
}

func openCommand() *cli.Command {
	return &cli.Command{
		Name:  "open",
		Usage: "open a channel with a DBot",
		Flags: []cli.Flag{
			rpcFlag, keyFlag, passwordFlag, managerFlag, dbotFlag,
			&cli.StringFlag{Name: "deposit", Required: true, Usage: "initial deposit in wei"},
		},
		Action: func(c *cli.Context) error {
			a, err := dial(c)
			if err != nil {
				return err
			}
			dbot, err := dbotAddress(c)
			if err != nil {
				return err
			}
			deposit, err := amount(c.String("deposit"))
			if err != nil {
				return err
			}
			ch, err := a.OpenChannel(c.Context, dbot, deposit)
			if err != nil {
				return err
			}
			fmt.Printf("channel open at block %d, deposit %s\n", ch.OpenBlock(), ch.Deposit())
			return nil
		},
	}
}

func topupCommand() *cli.Command {
	return &cli.Command{
		Name:  "topup",
		Usage: "increase the deposit of the channel with a DBot",
		Flags: []cli.Flag{
			rpcFlag, keyFlag, passwordFlag, managerFlag, dbotFlag,
			&cli.StringFlag{Name: "amount", Required: true, Usage: "amount to add in wei"},
		},
		Action: func(c *cli.Context) error {
			a, err := dial(c)
			if err != nil {
				return err
			}
			dbot, err := dbotAddress(c)
			if err != nil {
				return err
			}
			value, err := amount(c.String("amount"))
			if err != nil {
				return err
			}
			ch, err := a.TopupChannel(c.Context, dbot, value)
			if err != nil {
				return err
			}
			fmt.Printf("channel deposit now %s\n", ch.Deposit())
			return nil
		},
	}
}

func closeCommand() *cli.Command {
	return &cli.Command{
		Name:  "close",
		Usage: "close the channel with a DBot, cooperatively if possible",
		Flags: []cli.Flag{
			rpcFlag, keyFlag, passwordFlag, managerFlag, dbotFlag,
			&cli.StringFlag{Name: "balance", Usage: "force a unilateral close at this balance"},
		},
		Action: func(c *cli.Context) error {
			a, err := dial(c)
			if err != nil {
				return err
			}
			dbot, err := dbotAddress(c)
			if err != nil {
				return err
			}
			if raw := c.String("balance"); raw != "" {
				balance, err := amount(raw)
				if err != nil {
					return err
				}
				if err := a.UncooperativeCloseChannel(c.Context, dbot, balance); err != nil {
					return err
				}
				fmt.Println("unilateral close requested, settle after the challenge period")
				return nil
			}
			if err := a.CloseChannel(c.Context, dbot); err != nil {
				return err
			}
			fmt.Println("channel closed")
			return nil
		},
	}
}

func settleCommand() *cli.Command {
	return &cli.Command{
		Name:  "settle",
		Usage: "settle a unilaterally closed channel after the challenge period",
		Flags: []cli.Flag{rpcFlag, keyFlag, passwordFlag, managerFlag, dbotFlag},
		Action: func(c *cli.Context) error {
			a, err := dial(c)
			if err != nil {
				return err
			}
			dbot, err := dbotAddress(c)
			if err != nil {
				return err
			}
			if err := a.SettleChannel(c.Context, dbot); err != nil {
				return err
			}
			fmt.Println("channel settled")
			return nil
		},
	}
}

func dial(c *cli.Context) (*atn.Atn, error) {
	manager := c.String("manager")
	if !common.IsHexAddress(manager) {
		return nil, fmt.Errorf("invalid manager address %q", manager)
	}
	return atn.Dial(c.Context, c.String("rpc"), c.String("key"), c.String("password"),
		common.HexToAddress(manager))
}

func dbotAddress(c *cli.Context) (common.Address, error) {
	raw := c.String("dbot")
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid DBot address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func amount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}
