// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicegrant/devicegrant-go/apps/errors"
	"github.com/devicegrant/devicegrant-go/apps/internal/logger"
	"github.com/devicegrant/devicegrant-go/apps/internal/metrics"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/accesstokens"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/authority"
	"github.com/montanaflynn/stats"
)

// State is the state of a Poller.
type State int

const (
	// StateIssued is a Poller that has not been run.
	StateIssued State = iota
	// StatePolling is a Poller that is running.
	StatePolling
	StateSucceeded
	StateDenied
	StateExpired
	StateServerError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "Issued"
	case StatePolling:
		return "Polling"
	case StateSucceeded:
		return "Succeeded"
	case StateDenied:
		return "Denied"
	case StateExpired:
		return "Expired"
	case StateServerError:
		return "ServerError"
	case StateCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s > StatePolling
}

const (
	// defaultInterval is used when the authority did not send an interval (RFC 8628 section 3.5).
	defaultInterval = 5 * time.Second
	// slowDownIncrement is added to the interval on every slow_down reply.
	slowDownIncrement = 5 * time.Second
)

// Error codes the token endpoint replies with while polling.
const (
	codePending    = "authorization_pending"
	codeSlowDown   = "slow_down"
	codeExpired    = "expired_token"
	codeDeclined   = "authorization_declined"
	codeDenied     = "access_denied"
	codeOldExpired = errors.DeviceCodeAuthorizationCodeExpired
)

// Poller polls the token endpoint until the user completes or abandons sign in for one device code.
// A Poller is run at most once.
type Poller struct {
	// Result is the device code to show the user.
	Result accesstokens.DeviceCodeResult

	authParams   authority.AuthParams
	accessTokens accessTokens
	clock        Clock
	log          *logger.Logger
	rec          *metrics.Recorder

	mu        sync.Mutex
	state     State
	polls     int
	latencies []float64
}

func newPoller(dcr accesstokens.DeviceCodeResult, authParams authority.AuthParams, at accessTokens, clock Clock, log *logger.Logger, rec *metrics.Recorder) *Poller {
	return &Poller{
		Result:       dcr,
		authParams:   authParams,
		accessTokens: at,
		clock:        clock,
		log:          log,
		rec:          rec,
	}
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Polls returns the number of token endpoint calls made so far.
func (p *Poller) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// Run returns a token AFTER the user uses the device code on the second device. This will block
// until either: (1) the code is input by the user and the service releases a token, (2) the device
// code expires, (3) the user declines, (4) ctx is cancelled, (5) some other service error occurs.
//
// Errors are *errors.Error values: KindExpired, KindService (declined or any other failure) or
// KindCancelled. Calling Run a second time returns a KindInvalidOperation error.
func (p *Poller) Run(ctx context.Context) (accesstokens.TokenResponse, error) {
	if p.accessTokens == nil || p.clock == nil {
		return accesstokens.TokenResponse{}, errors.New("poller was either created outside its package or the creating method had an error, poller is not valid")
	}
	p.mu.Lock()
	if p.state != StateIssued {
		state := p.state
		p.mu.Unlock()
		return accesstokens.TokenResponse{}, &errors.Error{
			Kind:        errors.KindInvalidOperation,
			Code:        errors.DeviceCodeConsumed,
			Description: fmt.Sprintf("device code was already polled and is in state %s", state),
		}
	}
	p.state = StatePolling
	p.mu.Unlock()

	if p.log == nil {
		p.log = logger.New(nil)
	}
	if p.authParams.CorrelationID != "" {
		ctx = ops.WithCorrelationID(ctx, p.authParams.CorrelationID)
	}

	interval := time.Duration(p.Result.Interval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}

	for {
		if !p.clock.Now().Before(p.Result.ExpiresOn) {
			return p.expired(ctx, nil)
		}
		if err := ctx.Err(); err != nil {
			return p.finish(ctx, StateCancelled, errors.Cancelled(err))
		}

		tr, err := p.poll(ctx)
		if err == nil {
			p.rec.Poll(metrics.OutcomeSuccess)
			_, err := p.finish(ctx, StateSucceeded, nil)
			return tr, err
		}

		switch errors.CodeOf(err) {
		case codePending:
			p.rec.Poll(metrics.OutcomePending)
		case codeSlowDown:
			p.rec.Poll(metrics.OutcomeSlowDown)
			interval += slowDownIncrement
			p.log.Log(ctx, logger.Debug, "authority asked to slow down", logger.Field("interval", interval.String()))
		case codeExpired, codeOldExpired:
			p.rec.Poll(metrics.OutcomeError)
			return p.expired(ctx, err)
		case codeDeclined, codeDenied:
			p.rec.Poll(metrics.OutcomeError)
			e := &errors.Error{
				Kind:        errors.KindService,
				Code:        errors.AuthorizationDeclined,
				Description: "the user declined the device code request",
				Err:         err,
			}
			return p.finish(ctx, StateDenied, e)
		default:
			p.rec.Poll(metrics.OutcomeError)
			if errors.KindOf(err) == errors.KindCancelled {
				return p.finish(ctx, StateCancelled, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return p.finish(ctx, StateCancelled, errors.Cancelled(errors.Join(ctxErr, err)))
			}
			if errors.KindOf(err) != errors.KindService {
				err = errors.Service("", "", err)
			}
			return p.finish(ctx, StateServerError, err)
		}

		// There is no point in waiting if the code will expire before the next poll.
		if p.Result.ExpiresOn.Sub(p.clock.Now()) <= interval {
			return p.expired(ctx, err)
		}
		select {
		case <-ctx.Done():
			return p.finish(ctx, StateCancelled, errors.Cancelled(ctx.Err()))
		case <-p.clock.After(interval):
		}
	}
}

func (p *Poller) poll(ctx context.Context) (accesstokens.TokenResponse, error) {
	start := time.Now()
	tr, err := p.accessTokens.FromDeviceCodeResult(ctx, p.authParams, p.Result)

	p.mu.Lock()
	p.polls++
	p.latencies = append(p.latencies, float64(time.Since(start).Microseconds())/1000)
	p.mu.Unlock()
	return tr, err
}

func (p *Poller) expired(ctx context.Context, cause error) (accesstokens.TokenResponse, error) {
	e := errors.Expired("the device code expired before the user completed sign in")
	e.Err = cause
	return p.finish(ctx, StateExpired, e)
}

// finish moves the Poller to a terminal state and logs a summary of the sequence.
func (p *Poller) finish(ctx context.Context, state State, err error) (accesstokens.TokenResponse, error) {
	p.mu.Lock()
	p.state = state
	polls := p.polls
	latencies := stats.Float64Data(append([]float64(nil), p.latencies...))
	p.mu.Unlock()

	p.rec.Terminal(state.String())

	fields := []any{
		logger.Field("state", state.String()),
		logger.Field("polls", polls),
	}
	if len(latencies) > 0 {
		mean, _ := stats.Mean(latencies)
		maxLatency, _ := stats.Max(latencies)
		fields = append(fields, logger.Field("latency_mean_ms", mean), logger.Field("latency_max_ms", maxLatency))
	}
	p.log.Log(ctx, logger.Debug, "device code polling finished", fields...)

	if err != nil {
		p.log.Log(ctx, logger.Warn, "device code flow ended", logger.Field("state", state.String()), logger.Field("error", err.Error()))
	} else {
		p.log.Log(ctx, logger.Info, "device code flow ended", logger.Field("state", state.String()))
	}
	return accesstokens.TokenResponse{}, err
}
