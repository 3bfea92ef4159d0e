package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Outcome is the three-way result of one push attempt. The caller decides
// backoff and terminal handling; the provider never retries on its own.
type Outcome int

const (
	Delivered Outcome = iota
	// RetryableFailure covers provider hiccups worth another attempt.
	RetryableFailure
	// PermanentFailure means the destination token itself is invalid; the
	// stored token must be cleared, never retried.
	PermanentFailure
)

// Note is the push payload for one destination.
type Note struct {
	Title string
	Body  string
	Data  map[string]string
}

// Provider sends a mobile-push message to a destination token.
type Provider interface {
	Send(ctx context.Context, token string, n Note) (Outcome, error)
}

// FCMProvider posts to an FCM HTTPv1-style endpoint with a bearer key.
type FCMProvider struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMProvider(endpoint, key string) *FCMProvider {
	return &FCMProvider{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMProvider) Send(ctx context.Context, token string, n Note) (Outcome, error) {
	body := map[string]any{
		"message": map[string]any{
			"token":        token,
			"notification": map[string]string{"title": n.Title, "body": n.Body},
			"data":         n.Data,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return PermanentFailure, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return PermanentFailure, err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return RetryableFailure, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return Delivered, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		// destination token no longer registered
		return PermanentFailure, fmt.Errorf("push destination invalid: status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if strings.Contains(string(raw), "UNREGISTERED") || strings.Contains(string(raw), "INVALID_ARGUMENT") {
			return PermanentFailure, fmt.Errorf("push destination invalid: %s", raw)
		}
		return RetryableFailure, fmt.Errorf("push provider status %d", resp.StatusCode)
	default:
		return RetryableFailure, fmt.Errorf("push provider status %d", resp.StatusCode)
	}
}
