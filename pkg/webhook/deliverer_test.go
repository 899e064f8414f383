package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicegate/voicegate/pkg/events"
	"github.com/voicegate/voicegate/pkg/urlvalidation"
)

func testEnvelope() events.Envelope {
	data, _ := json.Marshal(events.CallEndedData{
		Reason:     "hangup",
		DurationMs: 4200,
		FramesIn:   210,
		FramesOut:  180,
	})
	return events.Envelope{
		ID:        "evt-1",
		Type:      events.CallEnded,
		Source:    "voicegate",
		SessionID: "sess-1",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func testDelivererConfig() DelivererConfig {
	return DelivererConfig{
		MaxRetries:        1,
		TimeoutSec:        5,
		BackoffInitialSec: 1,
		BackoffMaxSec:     1,
		CBFailThreshold:   5,
		CBResetTimeoutSec: 60,
	}
}

func TestDelivererSuccess(t *testing.T) {
	var received atomic.Bool

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Error("missing Content-Type header")
		}
		if r.Header.Get(SignatureHeader) == "" {
			t.Error("missing signature header")
		}
		if r.Header.Get("X-Voicegate-Event") != string(events.CallEnded) {
			t.Error("wrong event header")
		}
		if r.Header.Get("X-Voicegate-Delivery") != "evt-1" {
			t.Error("wrong delivery header")
		}
		received.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	// Nil repo: delivery bookkeeping is skipped, only the HTTP leg runs.
	d := NewDeliverer(nil, testDelivererConfig(), nil, urlvalidation.AllowPrivateIPs())

	wh := Endpoint{
		URL:    ts.URL,
		Secret: "test-secret",
	}
	wh.ID = "wh-1"

	d.Deliver(t.Context(), wh, testEnvelope())

	if !received.Load() {
		t.Error("server did not receive the webhook delivery")
	}
}

func TestDelivererSignatureVerification(t *testing.T) {
	secret := "webhook-secret-123"
	var sigValid atomic.Bool

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, 4096)
		n, _ := r.Body.Read(body)
		body = body[:n]

		sig := r.Header.Get(SignatureHeader)
		if Verify(secret, body, sig) {
			sigValid.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	d := NewDeliverer(nil, testDelivererConfig(), nil, urlvalidation.AllowPrivateIPs())

	wh := Endpoint{
		URL:    ts.URL,
		Secret: secret,
	}
	wh.ID = "wh-sig"

	d.Deliver(t.Context(), wh, testEnvelope())

	if !sigValid.Load() {
		t.Error("webhook signature was not valid")
	}
}

func TestDelivererCircuitOpenSkipsRequest(t *testing.T) {
	var hits atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	cfg := testDelivererConfig()
	cfg.CBFailThreshold = 1
	d := NewDeliverer(nil, cfg, nil, urlvalidation.AllowPrivateIPs())

	wh := Endpoint{
		URL:    ts.URL,
		Secret: "s",
	}
	wh.ID = "wh-cb"

	d.Deliver(t.Context(), wh, testEnvelope())
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}

	// Breaker opened on the first failure; the next delivery is dropped
	// without touching the endpoint.
	d.Deliver(t.Context(), wh, testEnvelope())
	if hits.Load() != 1 {
		t.Errorf("hits = %d after open circuit, want 1", hits.Load())
	}
}
