package call

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProviderWebhookReturnsConnectDocument(t *testing.T) {
	h := NewProviderWebhook("wss://gateway.example.com/media-stream")

	req := httptest.NewRequest(http.MethodPost, "/voice", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content type = %q, want application/xml", ct)
	}

	body, _ := io.ReadAll(rec.Body)
	doc := string(body)
	if !strings.Contains(doc, "<Connect>") {
		t.Error("document missing <Connect>")
	}
	if !strings.Contains(doc, `<Stream url="wss://gateway.example.com/media-stream">`) {
		t.Errorf("document missing stream URL: %s", doc)
	}
}

func TestProviderWebhookForwardsTenantParameter(t *testing.T) {
	h := NewProviderWebhook("wss://gateway.example.com/media-stream")

	req := httptest.NewRequest(http.MethodPost, "/voice?tenant=acme", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	doc := rec.Body.String()
	if !strings.Contains(doc, `<Parameter name="tenant" value="acme"/>`) {
		t.Errorf("document missing tenant parameter: %s", doc)
	}
}

func TestProviderWebhookDefaultsToRequestHost(t *testing.T) {
	h := NewProviderWebhook("")

	req := httptest.NewRequest(http.MethodPost, "/voice", nil)
	req.Host = "gw.internal:8080"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `wss://gw.internal:8080/media-stream`) {
		t.Errorf("document missing derived URL: %s", rec.Body.String())
	}
}
