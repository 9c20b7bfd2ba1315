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

package client

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRetryInterval is the fixed polling interval for event waits.
	DefaultRetryInterval = 3 * time.Second
	// DefaultTimeout bounds how long an event wait blocks in total.
	DefaultTimeout = 60 * time.Second
)

// ErrNoEvent is returned when no matching log was observed within the
// waiter's timeout. Local state must be left unchanged by callers, so a
// timed-out operation is safe to retry.
var ErrNoEvent = errors.New("no matching event observed before timeout")

// EventWaiter polls the ledger for a log matching a filter query at a fixed
// interval until one appears or the timeout elapses. This is a bounded
// retry loop, not exponential backoff.
type EventWaiter struct {
	backend  ChainBackend
	interval time.Duration
	timeout  time.Duration
	log      *logrus.Entry
}

// NewEventWaiter creates a waiter with the given polling interval and
// timeout. Non-positive values fall back to the defaults.
func NewEventWaiter(backend ChainBackend, interval, timeout time.Duration) *EventWaiter {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EventWaiter{
		backend:  backend,
		interval: interval,
		timeout:  timeout,
		log:      logrus.WithField("module", "client"),
	}
}

// Wait blocks until a log matching q is observed and returns the first
// match. It returns ErrNoEvent when the timeout elapses or ctx is done
// before a match appears.
func (w *EventWaiter) Wait(ctx context.Context, q ethereum.FilterQuery) (*types.Log, error) {
	deadline := time.Now().Add(w.timeout)
	for {
		logs, err := w.backend.FilterLogs(ctx, q)
		if err != nil {
			w.log.WithError(err).Warn("filtering logs failed, retrying")
		} else if len(logs) > 0 {
			return &logs[0], nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNoEvent
		}
		select {
		case <-ctx.Done():
			return nil, ErrNoEvent
		case <-time.After(w.interval):
		}
	}
}
