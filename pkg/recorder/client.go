// Package recorder is the client for the external meeting-recorder API.
// Webhooks only carry a meeting id; the transcript itself comes from here.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/client-linker/internal/resilience"
)

// Client fetches transcripts from the recorder API.
type Client interface {
	GetTranscript(ctx context.Context, meetingID string) (*Transcript, error)
}

// Transcript is the recorder's representation of a completed meeting.
type Transcript struct {
	MeetingID    string    `json:"meeting_id"`
	Title        string    `json:"title"`
	Date         time.Time `json:"date"`
	DurationSecs int       `json:"duration_secs"`
	Participants []string  `json:"participants"`
	Body         string    `json:"transcript"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a recorder API client.
func NewClient(apiKey, baseURL string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GetTranscript(ctx context.Context, meetingID string) (*Transcript, error) {
	url := fmt.Sprintf("%s/v1/meetings/%s/transcript", c.baseURL, meetingID)

	return resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (*Transcript, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "recorder: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "recorder: send request")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, eris.Wrap(err, "recorder: read response")
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("recorder: status %d: %s", resp.StatusCode, truncate(string(body), 200))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		var t Transcript
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, eris.Wrap(err, "recorder: decode response")
		}
		return &t, nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
