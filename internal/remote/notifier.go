package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notifier posts fire-and-forget new-message notifications to an external
// endpoint. Errors are returned for logging only; callers never surface
// them or roll anything back.
type Notifier struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewNotifier creates a notifier for the given endpoint. An empty endpoint
// disables notification calls.
func NewNotifier(endpoint, apiKey string) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyNewMessage tells the notification service that receiverID has a new
// message from senderID.
func (n *Notifier) NotifyNewMessage(ctx context.Context, senderID, receiverID, preview string) error {
	if n.endpoint == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"sender_id":   senderID,
		"receiver_id": receiverID,
		"preview":     preview,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("apikey", n.apiKey)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("notify endpoint status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
