// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package mock

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Reply is one scripted answer of an Authority endpoint.
type Reply struct {
	Status int
	Body   []byte
}

// Authority is a fake authorization server listening on a loopback address. It serves
// /{tenant}/oauth2/devicecode and /{tenant}/oauth2/token from scripted replies, in order,
// and records the forms it was sent.
type Authority struct {
	server *httptest.Server
	router *chi.Mux

	mu          sync.Mutex
	deviceCode  []Reply
	token       []Reply
	deviceForms []url.Values
	tokenForms  []url.Values
}

// NewAuthority starts an Authority. Call Close when done.
func NewAuthority() *Authority {
	a := &Authority{router: chi.NewRouter()}
	a.router.Use(middleware.Recoverer)
	a.router.Post("/{tenant}/oauth2/devicecode", a.handle(&a.deviceCode, &a.deviceForms))
	a.router.Post("/{tenant}/oauth2/token", a.handle(&a.token, &a.tokenForms))
	a.server = httptest.NewServer(a.router)
	return a
}

func (a *Authority) handle(replies *[]Reply, forms *[]url.Values) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		a.mu.Lock()
		*forms = append(*forms, r.PostForm)
		if len(*replies) == 0 {
			a.mu.Unlock()
			http.Error(w, `{"error":"server_error","error_description":"no scripted reply"}`, http.StatusInternalServerError)
			return
		}
		reply := (*replies)[0]
		*replies = (*replies)[1:]
		a.mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		status := reply.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(reply.Body)
	}
}

// AuthorityURL returns the authority URI for tenant on this server.
func (a *Authority) AuthorityURL(tenant string) string {
	return a.server.URL + "/" + tenant
}

// Client returns an HTTP client that can reach the server.
func (a *Authority) Client() *http.Client {
	return a.server.Client()
}

// Close shuts the server down.
func (a *Authority) Close() {
	a.server.Close()
}

// AppendDeviceCode scripts the next reply of the device code endpoint.
func (a *Authority) AppendDeviceCode(status int, body []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deviceCode = append(a.deviceCode, Reply{Status: status, Body: body})
}

// AppendToken scripts the next reply of the token endpoint.
func (a *Authority) AppendToken(status int, body []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = append(a.token, Reply{Status: status, Body: body})
}

// DeviceCodeForms returns the forms posted to the device code endpoint.
func (a *Authority) DeviceCodeForms() []url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]url.Values(nil), a.deviceForms...)
}

// TokenForms returns the forms posted to the token endpoint.
func (a *Authority) TokenForms() []url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]url.Values(nil), a.tokenForms...)
}
