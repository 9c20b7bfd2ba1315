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
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/atnio/atn-client-go/client"
	"github.com/atnio/atn-client-go/contracts"
)

// Directory locates the caller's existing channels with a receiver by
// reading channel-creation events and current channel state from the
// ledger.
type Directory struct {
	cb  *client.ContractBackend
	mgr *contracts.ChannelManager
	log *logrus.Entry
}

// NewDirectory creates a directory over the given manager contract.
func NewDirectory(cb *client.ContractBackend, mgr *contracts.ChannelManager) *Directory {
	return &Directory{
		cb:  cb,
		mgr: mgr,
		log: logrus.WithField("module", "directory"),
	}
}

// Channels returns the caller's channels with receiver that are still
// known to the contract, ordered by open block, highest first. One payer is
// assumed to maintain at most one concurrently active channel per receiver;
// with the descending order the first entry is deterministically the most
// recently opened one.
//
// Channels whose state can no longer be read (settled and pruned by the
// contract) are skipped. A channel with a running challenge period is
// returned in the Settling state.
func (d *Directory) Channels(ctx context.Context, receiver common.Address) ([]*Channel, error) {
	sender := d.cb.Account().Address()
	created, err := d.mgr.FilterCreated(ctx, sender, receiver, 0)
	if err != nil {
		return nil, err
	}

	channels := make([]*Channel, 0, len(created))
	for _, ev := range created {
		openBlock := uint32(ev.Raw.BlockNumber)
		info, err := d.mgr.GetChannelInfo(ctx, sender, receiver, openBlock)
		if err != nil {
			// Settled channels are no longer queryable.
			d.log.WithFields(logrus.Fields{
				"open_block": openBlock,
				"receiver":   receiver.Hex(),
			}).Debug("skipping channel without readable state")
			continue
		}
		state := StateOpen
		if info.SettleBlock > 0 {
			state = StateSettling
		}
		ch, err := NewWithState(d.cb, d.mgr, receiver, openBlock, info.Deposit, info.TransferredAmount, state)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	sort.Slice(channels, func(i, j int) bool {
		return channels[i].OpenBlock() > channels[j].OpenBlock()
	})
	return channels, nil
}
