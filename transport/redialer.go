// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// A Redialer dials a domain repeatedly, e.g. when reconnecting to resume a
// session. A circuit breaker stops it from hammering an endpoint that keeps
// refusing connections; while the breaker is open Dial fails fast with
// gobreaker.ErrOpenState.
type Redialer struct {
	dialer *Dialer
	domain string
	cb     *gobreaker.CircuitBreaker

	mu       sync.Mutex
	redirect string
}

// NewRedialer returns a Redialer for domain. The breaker opens after three
// consecutive failures and probes again after the cool-off interval.
func NewRedialer(dialer *Dialer, domain string, coolOff time.Duration) *Redialer {
	if coolOff <= 0 {
		coolOff = 30 * time.Second
	}
	return &Redialer{
		dialer: dialer,
		domain: domain,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "dial " + domain,
			Timeout: coolOff,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Redirect sets a one-shot dial target, such as the location carried by a
// stream management <enabled/> element or a see-other-host stream error.
// The next Dial connects there directly instead of resolving the domain.
func (r *Redialer) Redirect(hostport string) {
	r.mu.Lock()
	r.redirect = hostport
	r.mu.Unlock()
}

func (r *Redialer) takeRedirect() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	target := r.redirect
	r.redirect = ""
	return target
}

// Dial establishes a new transport to the redialer's domain, or to the
// pending redirect target if one was set.
func (r *Redialer) Dial(ctx context.Context) (Transport, error) {
	tr, err := r.cb.Execute(func() (interface{}, error) {
		if target := r.takeRedirect(); target != "" {
			return r.dialer.dialDirect(ctx, target)
		}
		return r.dialer.Dial(ctx, r.domain)
	})
	if err != nil {
		return nil, err
	}
	return tr.(Transport), nil
}
