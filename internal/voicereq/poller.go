package voicereq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Poller is the client side of the voice request lifecycle: create a request
// on a remote gateway, then poll its result until a transcript arrives or
// the caller's timeout budget runs out.
type Poller struct {
	baseURL string
	client  *http.Client
	// Interval between result polls.
	Interval time.Duration
}

func NewPoller(baseURL string, client *http.Client) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	return &Poller{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		Interval: time.Second,
	}
}

type createResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type resultResponse struct {
	Status     string  `json:"status"`
	Transcript *string `json:"transcript"`
	Error      *string `json:"error"`
}

// GetVoiceInput creates a voice request for language and polls until it
// completes. Fails with ErrTimeout once timeout elapses. Any non-success
// response from the gateway is a fatal transport error, not retried.
func (p *Poller) GetVoiceInput(ctx context.Context, language string, timeout time.Duration) (string, error) {
	id, err := p.createRequest(ctx, language)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	for {
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w: no transcript within %s", ErrTimeout, timeout)
		}

		result, err := p.fetchResult(ctx, id)
		if err != nil {
			return "", err
		}
		if result.Status == string(StatusCompleted) {
			if result.Transcript == nil {
				return "", nil
			}
			return *result.Transcript, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.Interval):
		}
	}
}

func (p *Poller) createRequest(ctx context.Context, language string) (string, error) {
	body, err := json.Marshal(map[string]string{"language": language})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/request-voice", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create voice request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create voice request returned %s", resp.Status)
	}

	var created createResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if created.RequestID == "" {
		return "", fmt.Errorf("create response missing request id")
	}
	return created.RequestID, nil
}

func (p *Poller) fetchResult(ctx context.Context, id string) (resultResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/result/"+id, nil)
	if err != nil {
		return resultResponse{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return resultResponse{}, fmt.Errorf("fetch voice result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resultResponse{}, fmt.Errorf("voice result fetch returned %s", resp.Status)
	}

	var result resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return resultResponse{}, fmt.Errorf("decode result response: %w", err)
	}
	return result, nil
}
