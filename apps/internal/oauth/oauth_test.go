// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/devicegrant/devicegrant-go/apps/errors"
	"github.com/devicegrant/devicegrant-go/apps/internal/mock"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/accesstokens"
	"github.com/devicegrant/devicegrant-go/apps/internal/oauth/ops/authority"
	"github.com/kylelemons/godebug/pretty"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testAuthParams() authority.AuthParams {
	info, err := authority.NewInfoFromAuthorityURI("https://login.example.com/tenant")
	if err != nil {
		panic(err)
	}
	p := authority.NewAuthParams("client-id", info)
	p.Resource = "https://resource.example.com"
	return p
}

// fakeAccessTokens answers polls from a script. A nil error in the script is a successful poll.
type fakeAccessTokens struct {
	dcr    accesstokens.DeviceCodeResult
	dcrErr error

	script []error
	onPoll func(n int)
	polls  int
}

func (f *fakeAccessTokens) DeviceCodeResult(ctx context.Context, authParams authority.AuthParams) (accesstokens.DeviceCodeResult, error) {
	return f.dcr, f.dcrErr
}

func (f *fakeAccessTokens) FromDeviceCodeResult(ctx context.Context, authParams authority.AuthParams, dcr accesstokens.DeviceCodeResult) (accesstokens.TokenResponse, error) {
	f.polls++
	if f.onPoll != nil {
		f.onPoll(f.polls)
	}
	if len(f.script) == 0 {
		panic("poll after the end of the script")
	}
	err := f.script[0]
	f.script = f.script[1:]
	if err != nil {
		return accesstokens.TokenResponse{}, err
	}
	return accesstokens.TokenResponse{AccessToken: "at"}, nil
}

func (f *fakeAccessTokens) FromRefreshToken(ctx context.Context, authParams authority.AuthParams, refreshToken string) (accesstokens.TokenResponse, error) {
	return accesstokens.TokenResponse{AccessToken: "refreshed"}, nil
}

func serverErr(code string) error {
	return errors.Service(code, code+" description", nil)
}

func testPoller(clock *mock.Clock, expiresIn time.Duration, interval int, at *fakeAccessTokens) *Poller {
	dcr := accesstokens.NewDeviceCodeResult("uc", "dc", "https://example.com/devicelogin", clock.Now().Add(expiresIn), interval, "msg", "client-id", "https://resource.example.com")
	return newPoller(dcr, testAuthParams(), at, clock, nil, nil)
}

func TestPoller(t *testing.T) {
	tests := []struct {
		desc      string
		expiresIn time.Duration
		interval  int
		script    []error

		wantState State
		wantKind  errors.Kind
		wantCode  string
		wantPolls int
		wantWaits []time.Duration
	}{
		{
			desc:      "Success after pending",
			expiresIn: 15 * time.Minute,
			interval:  5,
			script:    []error{serverErr("authorization_pending"), nil},
			wantState: StateSucceeded,
			wantPolls: 2,
			wantWaits: []time.Duration{5 * time.Second},
		},
		{
			desc:      "Expired after pending",
			expiresIn: 30 * time.Second,
			interval:  2,
			script:    []error{serverErr("authorization_pending"), serverErr("expired_token")},
			wantState: StateExpired,
			wantKind:  errors.KindExpired,
			wantCode:  errors.DeviceCodeAuthorizationCodeExpired,
			wantPolls: 2,
			wantWaits: []time.Duration{2 * time.Second},
		},
		{
			desc:      "Server code_expired",
			expiresIn: 30 * time.Second,
			interval:  2,
			script:    []error{serverErr("code_expired")},
			wantState: StateExpired,
			wantKind:  errors.KindExpired,
			wantCode:  errors.DeviceCodeAuthorizationCodeExpired,
			wantPolls: 1,
		},
		{
			desc:      "Zero window never polls",
			expiresIn: 0,
			interval:  1,
			wantState: StateExpired,
			wantKind:  errors.KindExpired,
			wantCode:  errors.DeviceCodeAuthorizationCodeExpired,
			wantPolls: 0,
		},
		{
			desc:      "Window shorter than the interval",
			expiresIn: 4 * time.Second,
			interval:  5,
			script:    []error{serverErr("authorization_pending")},
			wantState: StateExpired,
			wantKind:  errors.KindExpired,
			wantCode:  errors.DeviceCodeAuthorizationCodeExpired,
			wantPolls: 1,
		},
		{
			desc:      "Local expiry while pending",
			expiresIn: 10 * time.Second,
			interval:  5,
			script:    []error{serverErr("authorization_pending"), serverErr("authorization_pending")},
			wantState: StateExpired,
			wantKind:  errors.KindExpired,
			wantCode:  errors.DeviceCodeAuthorizationCodeExpired,
			wantPolls: 2,
			wantWaits: []time.Duration{5 * time.Second},
		},
		{
			desc:      "slow_down adds five seconds",
			expiresIn: 15 * time.Minute,
			interval:  2,
			script:    []error{serverErr("slow_down"), serverErr("authorization_pending"), serverErr("slow_down"), nil},
			wantState: StateSucceeded,
			wantPolls: 4,
			wantWaits: []time.Duration{7 * time.Second, 7 * time.Second, 12 * time.Second},
		},
		{
			desc:      "Missing interval uses the default",
			expiresIn: 15 * time.Minute,
			interval:  0,
			script:    []error{serverErr("authorization_pending"), nil},
			wantState: StateSucceeded,
			wantPolls: 2,
			wantWaits: []time.Duration{5 * time.Second},
		},
		{
			desc:      "Declined",
			expiresIn: 15 * time.Minute,
			interval:  5,
			script:    []error{serverErr("authorization_pending"), serverErr("authorization_declined")},
			wantState: StateDenied,
			wantKind:  errors.KindService,
			wantCode:  errors.AuthorizationDeclined,
			wantPolls: 2,
			wantWaits: []time.Duration{5 * time.Second},
		},
		{
			desc:      "Access denied",
			expiresIn: 15 * time.Minute,
			interval:  5,
			script:    []error{serverErr("access_denied")},
			wantState: StateDenied,
			wantKind:  errors.KindService,
			wantCode:  errors.AuthorizationDeclined,
			wantPolls: 1,
		},
		{
			desc:      "Other server error",
			expiresIn: 15 * time.Minute,
			interval:  5,
			script:    []error{serverErr("invalid_client")},
			wantState: StateServerError,
			wantKind:  errors.KindService,
			wantCode:  "invalid_client",
			wantPolls: 1,
		},
		{
			desc:      "Transport error",
			expiresIn: 15 * time.Minute,
			interval:  5,
			script:    []error{fmt.Errorf("connection reset")},
			wantState: StateServerError,
			wantKind:  errors.KindService,
			wantPolls: 1,
		},
	}

	for _, test := range tests {
		clock := mock.NewClock(testStart)
		at := &fakeAccessTokens{script: test.script}
		p := testPoller(clock, test.expiresIn, test.interval, at)

		tr, err := p.Run(context.Background())
		switch {
		case err == nil && test.wantKind != errors.KindUnknown:
			t.Errorf("TestPoller(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && test.wantKind == errors.KindUnknown:
			t.Errorf("TestPoller(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			if errors.KindOf(err) != test.wantKind {
				t.Errorf("TestPoller(%s): got kind %v, want %v", test.desc, errors.KindOf(err), test.wantKind)
			}
			if got := errors.CodeOf(err); got != test.wantCode {
				t.Errorf("TestPoller(%s): got code %q, want %q", test.desc, got, test.wantCode)
			}
		default:
			if tr.AccessToken != "at" {
				t.Errorf("TestPoller(%s): got access token %q, want at", test.desc, tr.AccessToken)
			}
		}

		if p.State() != test.wantState {
			t.Errorf("TestPoller(%s): got state %s, want %s", test.desc, p.State(), test.wantState)
		}
		if p.Polls() != test.wantPolls || at.polls != test.wantPolls {
			t.Errorf("TestPoller(%s): got %d polls, want %d", test.desc, at.polls, test.wantPolls)
		}
		if diff := pretty.Compare(test.wantWaits, clock.Waits()); diff != "" {
			t.Errorf("TestPoller(%s): waits -want/+got:\n%s", test.desc, diff)
		}
	}
}

func TestPollerCancelledDuringWait(t *testing.T) {
	clock := mock.NewClock(testStart)
	clock.Block = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	at := &fakeAccessTokens{
		script: []error{serverErr("authorization_pending")},
		onPoll: func(int) { cancel() },
	}
	p := testPoller(clock, 15*time.Minute, 5, at)

	_, err := p.Run(ctx)
	if errors.KindOf(err) != errors.KindCancelled {
		t.Fatalf("TestPollerCancelledDuringWait: got %v, want KindCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("TestPollerCancelledDuringWait: got %v, want it to wrap context.Canceled", err)
	}
	if p.State() != StateCancelled {
		t.Errorf("TestPollerCancelledDuringWait: got state %s, want Cancelled", p.State())
	}
	if at.polls != 1 {
		t.Errorf("TestPollerCancelledDuringWait: got %d polls, want 1", at.polls)
	}
}

func TestPollerCancelledDuringPoll(t *testing.T) {
	clock := mock.NewClock(testStart)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	at := &fakeAccessTokens{
		script: []error{errors.New("read tcp: use of closed network connection")},
		onPoll: func(int) { cancel() },
	}
	p := testPoller(clock, 15*time.Minute, 5, at)

	_, err := p.Run(ctx)
	if errors.KindOf(err) != errors.KindCancelled {
		t.Fatalf("TestPollerCancelledDuringPoll: got %v, want KindCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("TestPollerCancelledDuringPoll: got %v, want it to wrap context.Canceled", err)
	}
	if p.State() != StateCancelled {
		t.Errorf("TestPollerCancelledDuringPoll: got state %s, want Cancelled", p.State())
	}
}

func TestPollerCancelledBeforeRun(t *testing.T) {
	clock := mock.NewClock(testStart)
	at := &fakeAccessTokens{}
	p := testPoller(clock, 15*time.Minute, 5, at)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx); errors.KindOf(err) != errors.KindCancelled {
		t.Errorf("TestPollerCancelledBeforeRun: got %v, want KindCancelled", err)
	}
	if at.polls != 0 {
		t.Errorf("TestPollerCancelledBeforeRun: got %d polls, want 0", at.polls)
	}
}

func TestPollerRunTwice(t *testing.T) {
	clock := mock.NewClock(testStart)
	at := &fakeAccessTokens{script: []error{nil}}
	p := testPoller(clock, 15*time.Minute, 5, at)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("TestPollerRunTwice: got err == %s, want err == nil", err)
	}
	_, err := p.Run(context.Background())
	if !errors.Is(err, &errors.Error{Kind: errors.KindInvalidOperation, Code: errors.DeviceCodeConsumed}) {
		t.Errorf("TestPollerRunTwice: got %v, want KindInvalidOperation/%s", err, errors.DeviceCodeConsumed)
	}
	if at.polls != 1 {
		t.Errorf("TestPollerRunTwice: got %d polls, want 1", at.polls)
	}
}

func TestPollerNotFromClient(t *testing.T) {
	if _, err := (&Poller{}).Run(context.Background()); err == nil {
		t.Errorf("TestPollerNotFromClient: got err == nil, want err != nil")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIssued:      "Issued",
		StatePolling:     "Polling",
		StateSucceeded:   "Succeeded",
		StateDenied:      "Denied",
		StateExpired:     "Expired",
		StateServerError: "ServerError",
		StateCancelled:   "Cancelled",
		State(42):        "State(42)",
	} {
		if s.String() != want {
			t.Errorf("TestStateString: got %q, want %q", s.String(), want)
		}
	}
	if StatePolling.Terminal() || !StateExpired.Terminal() {
		t.Errorf("TestStateString: Terminal() is wrong")
	}
}

func TestDeviceCodeOverHTTP(t *testing.T) {
	clock := mock.NewClock(testStart)
	httpClient := mock.NewClient()
	httpClient.AppendResponse(mock.WithBody(mock.GetDeviceCodeBody("dc", "uc", "https://example.com/devicelogin", 900, 5)))
	httpClient.AppendResponse(
		mock.WithHTTPStatusCode(http.StatusBadRequest),
		mock.WithBody(mock.GetErrorBody("authorization_pending", "AADSTS70016: OAuth 2.0 device flow error. Authorization is pending.")),
	)
	var gotForm string
	httpClient.AppendResponse(
		mock.WithBody(mock.GetAccessTokenBody("at", mock.GetIDToken("oid", "tenant", "user@example.com"), "rt", mock.GetClientInfo("uid", "utid"), 3600)),
		mock.WithCallback(func(r *http.Request) {
			if err := r.ParseForm(); err == nil {
				gotForm = r.PostForm.Encode()
			}
		}),
	)

	client := New(httpClient, WithClock(clock))
	p, err := client.DeviceCode(context.Background(), testAuthParams())
	if err != nil {
		t.Fatalf("TestDeviceCodeOverHTTP: got err == %s, want err == nil", err)
	}
	wantResult := accesstokens.DeviceCodeResult{
		UserCode:        "uc",
		DeviceCode:      "dc",
		VerificationURL: "https://example.com/devicelogin",
		ExpiresOn:       testStart.Add(900 * time.Second),
		Interval:        5,
		Message:         "To sign in, use a web browser to open the page https://example.com/devicelogin and enter the code uc to authenticate.",
		ClientID:        "client-id",
		Resource:        "https://resource.example.com",
	}
	if diff := pretty.Compare(wantResult, p.Result); diff != "" {
		t.Fatalf("TestDeviceCodeOverHTTP: -want/+got:\n%s", diff)
	}

	tr, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("TestDeviceCodeOverHTTP(Run): got err == %s, want err == nil", err)
	}
	if tr.AccessToken != "at" || tr.HomeAccountID() != "uid.utid" {
		t.Errorf("TestDeviceCodeOverHTTP: got (%q, %q), want (at, uid.utid)", tr.AccessToken, tr.HomeAccountID())
	}
	if !tr.ExpiresOn.Equal(testStart.Add(5*time.Second + time.Hour)) {
		t.Errorf("TestDeviceCodeOverHTTP: got ExpiresOn %v, want %v", tr.ExpiresOn, testStart.Add(5*time.Second+time.Hour))
	}
	for _, want := range []string{"grant_type=device_code", "code=dc", "client_id=client-id", "resource=https"} {
		if !strings.Contains(gotForm, want) {
			t.Errorf("TestDeviceCodeOverHTTP: token request %q does not contain %q", gotForm, want)
		}
	}
	if httpClient.Remaining() != 0 {
		t.Errorf("TestDeviceCodeOverHTTP: %d responses were not used", httpClient.Remaining())
	}
}

func TestDeviceCodeErrorOverHTTP(t *testing.T) {
	httpClient := mock.NewClient()
	httpClient.AppendResponse(
		mock.WithHTTPStatusCode(http.StatusBadRequest),
		mock.WithBody([]byte(`{"error":"some_error","error_description":"some error message."}`)),
	)

	client := New(httpClient, WithClock(mock.NewClock(testStart)))
	_, err := client.DeviceCode(context.Background(), testAuthParams())
	if err == nil {
		t.Fatal("TestDeviceCodeErrorOverHTTP: got err == nil, want err != nil")
	}
	if errors.KindOf(err) != errors.KindService {
		t.Errorf("TestDeviceCodeErrorOverHTTP: got kind %v, want KindService", errors.KindOf(err))
	}
	if !strings.Contains(err.Error(), "some error message.") {
		t.Errorf("TestDeviceCodeErrorOverHTTP: got %q, want it to contain the server's description", err.Error())
	}
}

func TestRefresh(t *testing.T) {
	client := &Client{accessTokens: &fakeAccessTokens{}, clock: mock.NewClock(testStart)}
	tr, err := client.Refresh(context.Background(), testAuthParams(), "rt")
	if err != nil || tr.AccessToken != "refreshed" {
		t.Errorf("TestRefresh: got (%q, %v), want (refreshed, nil)", tr.AccessToken, err)
	}
	if _, err := (&Client{}).Refresh(context.Background(), testAuthParams(), "rt"); err == nil {
		t.Errorf("TestRefresh(zero Client): got err == nil, want err != nil")
	}
}
