// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package metrics holds the Prometheus counters the module updates. A nil *Recorder is valid
// and records nothing, so callers never need to check whether metrics were enabled.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Poll outcomes, used as the "outcome" label of devicegrant_polls_total.
const (
	OutcomeSuccess  = "success"
	OutcomePending  = "pending"
	OutcomeSlowDown = "slow_down"
	OutcomeError    = "error"
)

// Recorder updates the module's counters.
type Recorder struct {
	polls     *prometheus.CounterVec
	terminals *prometheus.CounterVec
	cacheOps  *prometheus.CounterVec
	corrupt   *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg. Collectors already registered
// by an earlier Recorder on the same reg are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicegrant_polls_total",
			Help: "Total number of token endpoint polls made for device codes, by outcome",
		}, []string{"outcome"}),
		terminals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicegrant_poll_sequences_total",
			Help: "Total number of device code polling sequences, by terminal state",
		}, []string{"state"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicegrant_cache_operations_total",
			Help: "Total number of token cache operations, by store, operation and result",
		}, []string{"store", "op", "result"}),
		corrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicegrant_cache_corrupt_entries_total",
			Help: "Total number of cache entries skipped because they could not be decoded",
		}, []string{"store"}),
	}

	var err error
	if r.polls, err = register(reg, r.polls); err != nil {
		return nil, err
	}
	if r.terminals, err = register(reg, r.terminals); err != nil {
		return nil, err
	}
	if r.cacheOps, err = register(reg, r.cacheOps); err != nil {
		return nil, err
	}
	if r.corrupt, err = register(reg, r.corrupt); err != nil {
		return nil, err
	}
	return r, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// Poll counts one token endpoint poll.
func (r *Recorder) Poll(outcome string) {
	if r == nil {
		return
	}
	r.polls.WithLabelValues(outcome).Inc()
}

// Terminal counts a polling sequence that ended in state.
func (r *Recorder) Terminal(state string) {
	if r == nil {
		return
	}
	r.terminals.WithLabelValues(state).Inc()
}

// CacheOp counts an operation on a cache store. A nil err is recorded as "ok".
func (r *Recorder) CacheOp(store, op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.cacheOps.WithLabelValues(store, op, result).Inc()
}

// Corrupt counts n entries of store that were skipped because they could not be decoded.
func (r *Recorder) Corrupt(store string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.corrupt.WithLabelValues(store).Add(float64(n))
}
