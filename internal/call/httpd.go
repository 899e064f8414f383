package call

import (
	"fmt"
	"log/slog"
	"net/http"
)

// ProviderWebhook answers the telephony provider's incoming-call webhook
// with a connect document pointing the provider at the media-streaming
// WebSocket endpoint.
type ProviderWebhook struct {
	// StreamURL is the externally reachable wss:// media-stream URL.
	StreamURL string
}

// NewProviderWebhook creates the webhook handler.
func NewProviderWebhook(streamURL string) *ProviderWebhook {
	return &ProviderWebhook{StreamURL: streamURL}
}

func (p *ProviderWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamURL := p.StreamURL
	if streamURL == "" {
		streamURL = "wss://" + r.Host + "/media-stream"
	}

	// A tenant query parameter is forwarded to the stream as a custom
	// parameter so the start event can select the persona.
	params := `<Parameter name="direction" value="both"/>`
	if tenantName := r.URL.Query().Get("tenant"); tenantName != "" {
		params += fmt.Sprintf("\n            <Parameter name=\"tenant\" value=%q/>", tenantName)
	}

	doc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s">
            %s
        </Stream>
    </Connect>
</Response>`, streamURL, params)

	w.Header().Set("Content-Type", "application/xml")
	if _, err := w.Write([]byte(doc)); err != nil {
		slog.WarnContext(r.Context(), "provider webhook write failed",
			slog.String("error", err.Error()))
	}
}
