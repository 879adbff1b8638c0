package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/krishnanand20/audiosurvey-ai/pkg/gateway"
)

func TestRESTGateway(t *testing.T) {
	type call struct {
		method string
		path   string
		body   map[string]string
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "ac" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		c := call{method: r.Method, path: r.URL.Path}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&c.body)
		}
		calls = append(calls, c)
		if r.Method == http.MethodPost && r.URL.Path == "/calls" {
			json.NewEncoder(w).Encode(map[string]string{"callId": "CA123"})
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	g := gateway.NewREST(srv.URL, gateway.WithBasicAuth("ac", "tok"))

	id, err := g.PlaceCall(ctx, "+15550100")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if id != "CA123" {
		t.Fatalf("call id = %q", id)
	}
	if err := g.PlayAudio(ctx, id, gateway.Prompt{Text: "hello"}); err != nil {
		t.Fatalf("PlayAudio: %v", err)
	}
	if err := g.StartRecording(ctx, id); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := g.EndCall(ctx, id); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	want := []call{
		{method: "POST", path: "/calls", body: map[string]string{"to": "+15550100"}},
		{method: "POST", path: "/calls/CA123/play", body: map[string]string{"text": "hello"}},
		{method: "POST", path: "/calls/CA123/recording/start"},
		{method: "DELETE", path: "/calls/CA123"},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(calls), len(want))
	}
	for i, w := range want {
		if calls[i].method != w.method || calls[i].path != w.path {
			t.Fatalf("call %d = %s %s, want %s %s", i, calls[i].method, calls[i].path, w.method, w.path)
		}
		for k, v := range w.body {
			if calls[i].body[k] != v {
				t.Fatalf("call %d body[%s] = %q, want %q", i, k, calls[i].body[k], v)
			}
		}
	}
}

func TestRESTGatewayUnknownCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := gateway.NewREST(srv.URL)
	err := g.PlayAudio(context.Background(), "DEAD", gateway.Prompt{Text: "x"})
	if !errors.Is(err, gateway.ErrUnknownCall) {
		t.Fatalf("err = %v, want ErrUnknownCall", err)
	}
}

func TestRESTGatewayErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := gateway.NewREST(srv.URL)
	if _, err := g.PlaceCall(context.Background(), "+1"); err == nil {
		t.Fatalf("error status accepted")
	}
}
