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

// Package contracts holds thin hand-bound wrappers around the on-chain
// channel manager and DBot identity contracts. The wrappers only construct
// calls and interpret results and events; all contract validation lives on
// chain.
package contracts

// ChannelManagerABI is the client-facing subset of the channel manager
// contract interface.
const ChannelManagerABI = `[
	{"type":"function","name":"createChannel","stateMutability":"payable","inputs":[{"name":"_receiver_address","type":"address"}],"outputs":[]},
	{"type":"function","name":"topUp","stateMutability":"payable","inputs":[{"name":"_receiver_address","type":"address"},{"name":"_open_block_number","type":"uint32"}],"outputs":[]},
	{"type":"function","name":"uncooperativeClose","stateMutability":"nonpayable","inputs":[{"name":"_receiver_address","type":"address"},{"name":"_open_block_number","type":"uint32"},{"name":"_balance","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"cooperativeClose","stateMutability":"nonpayable","inputs":[{"name":"_receiver_address","type":"address"},{"name":"_open_block_number","type":"uint32"},{"name":"_balance","type":"uint256"},{"name":"_balance_msg_sig","type":"bytes"},{"name":"_closing_sig","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"settle","stateMutability":"nonpayable","inputs":[{"name":"_receiver_address","type":"address"},{"name":"_open_block_number","type":"uint32"}],"outputs":[]},
	{"type":"function","name":"getChannelInfo","stateMutability":"view","inputs":[{"name":"_sender_address","type":"address"},{"name":"_receiver_address","type":"address"},{"name":"_open_block_number","type":"uint32"}],"outputs":[{"name":"key","type":"bytes32"},{"name":"deposit","type":"uint256"},{"name":"settle_block_number","type":"uint32"},{"name":"closing_balance","type":"uint256"},{"name":"transferred_amount","type":"uint256"}]},
	{"type":"event","name":"ChannelCreated","inputs":[{"name":"_sender_address","type":"address","indexed":true},{"name":"_receiver_address","type":"address","indexed":true},{"name":"_deposit","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"ChannelToppedUp","inputs":[{"name":"_sender_address","type":"address","indexed":true},{"name":"_receiver_address","type":"address","indexed":true},{"name":"_open_block_number","type":"uint32","indexed":true},{"name":"_added_deposit","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"ChannelCloseRequested","inputs":[{"name":"_sender_address","type":"address","indexed":true},{"name":"_receiver_address","type":"address","indexed":true},{"name":"_open_block_number","type":"uint32","indexed":true},{"name":"_balance","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"ChannelSettled","inputs":[{"name":"_sender_address","type":"address","indexed":true},{"name":"_receiver_address","type":"address","indexed":true},{"name":"_open_block_number","type":"uint32","indexed":true},{"name":"_balance","type":"uint256","indexed":false}],"anonymous":false}
]`

// DbotABI is the client-facing subset of the DBot identity contract
// interface: naming, HTTP origin, ownership and endpoint pricing.
const DbotABI = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"domain","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"getOwner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getKey","stateMutability":"pure","inputs":[{"name":"_method","type":"bytes32"},{"name":"_uri","type":"bytes32"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"keyToEndPoints","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"uri","type":"bytes32"},{"name":"price","type":"uint256"}]}
]`
