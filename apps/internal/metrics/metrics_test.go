// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	if err != nil {
		t.Fatalf("TestRecorder: got err == %s, want err == nil", err)
	}

	r.Poll(OutcomePending)
	r.Poll(OutcomePending)
	r.Poll(OutcomeSuccess)
	r.Terminal("Succeeded")
	r.CacheOp("accesstoken", "save", nil)
	r.CacheOp("accesstoken", "save", errors.New("disk full"))
	r.Corrupt("account", 3)
	r.Corrupt("account", 0)

	tests := []struct {
		desc string
		c    prometheus.Collector
		want float64
	}{
		{"pending polls", r.polls.WithLabelValues(OutcomePending), 2},
		{"successful polls", r.polls.WithLabelValues(OutcomeSuccess), 1},
		{"terminal", r.terminals.WithLabelValues("Succeeded"), 1},
		{"cache ok", r.cacheOps.WithLabelValues("accesstoken", "save", "ok"), 1},
		{"cache error", r.cacheOps.WithLabelValues("accesstoken", "save", "error"), 1},
		{"corrupt", r.corrupt.WithLabelValues("account"), 3},
	}
	for _, test := range tests {
		if got := testutil.ToFloat64(test.c); got != test.want {
			t.Errorf("TestRecorder(%s): got %v, want %v", test.desc, got, test.want)
		}
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	if err != nil {
		t.Fatalf("TestNewReusesRegisteredCollectors: got err == %s, want err == nil", err)
	}
	second, err := New(reg)
	if err != nil {
		t.Fatalf("TestNewReusesRegisteredCollectors(second New): got err == %s, want err == nil", err)
	}
	first.Poll(OutcomeError)
	second.Poll(OutcomeError)
	if got := testutil.ToFloat64(first.polls.WithLabelValues(OutcomeError)); got != 2 {
		t.Errorf("TestNewReusesRegisteredCollectors: got %v, want 2", got)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Poll(OutcomeSuccess)
	r.Terminal("Expired")
	r.CacheOp("refreshtoken", "clear", nil)
	r.Corrupt("idtoken", 1)
}
