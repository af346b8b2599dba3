package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// defaultWebhookTimeout bounds one webhook delivery.
	defaultWebhookTimeout = 10 * time.Second
)

// WebhookHandler delivers calls as JSON POST requests.
// Any non-2xx response is a failure.
type WebhookHandler struct {
	url    string       // url receives the POST
	client *http.Client // client performs the request
}

// webhookBody is the JSON body of a delivery.
type webhookBody struct {
	MsgID      string `json:"msgId"`
	SrcChainID uint64 `json:"srcChainId"`
	Upstream   string `json:"upstream"`
	Target     string `json:"target"`
	Payload    []byte `json:"payload"`
}

// NewWebhookHandler creates a handler posting to url.
func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &WebhookHandler{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Invoke posts call to the webhook URL.
func (h *WebhookHandler) Invoke(ctx context.Context, call Call) error {
	body, err := json.Marshal(webhookBody{
		MsgID:      call.Meta.MsgID.String(),
		SrcChainID: uint64(call.Meta.SrcChainID),
		Upstream:   call.Meta.Upstream.String(),
		Target:     call.Target.String(),
		Payload:    call.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook body:\n%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request:\n%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook:\n%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook %s: status %d: %s", h.url, resp.StatusCode, bytes.TrimSpace(detail))
	}

	return nil
}
