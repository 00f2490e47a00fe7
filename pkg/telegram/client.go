// Package telegram is a minimal Telegram Bot API client covering what the
// escalation channel needs: sending messages and parsing webhook updates.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/client-linker/internal/resilience"
)

const defaultBaseURL = "https://api.telegram.org"

// Client sends messages through the Bot API.
type Client interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts ...SendOption) (*Message, error)
}

// Update is the Bot API webhook envelope.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is an inbound or outbound chat message.
type Message struct {
	MessageID      int64    `json:"message_id"`
	Chat           Chat     `json:"chat"`
	Text           string   `json:"text,omitempty"`
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// SendOption configures a single send.
type SendOption func(*sendRequest)

// WithParseMode sets the message parse mode ("Markdown", "HTML").
func WithParseMode(mode string) SendOption {
	return func(r *sendRequest) {
		r.ParseMode = mode
	}
}

// WithDisablePreview suppresses link previews.
func WithDisablePreview() SendOption {
	return func(r *sendRequest) {
		r.DisableWebPagePreview = true
	}
}

type sendRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type sendResponse struct {
	OK          bool     `json:"ok"`
	Result      *Message `json:"result,omitempty"`
	Description string   `json:"description,omitempty"`
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
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Bot API client. Sends are rate-limited to stay under
// the Bot API's ~30 messages/second ceiling.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 8 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(25), 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SendMessage(ctx context.Context, chatID int64, text string, opts ...SendOption) (*Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "telegram: rate limit wait")
	}

	req := sendRequest{ChatID: chatID, Text: text}
	for _, o := range opts {
		o(&req)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "telegram: marshal request")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)

	return resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (*Message, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "telegram: create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, eris.Wrap(err, "telegram: send request")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, eris.Wrap(err, "telegram: read response")
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("telegram: status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		var parsed sendResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, eris.Wrap(err, "telegram: decode response")
		}
		if !parsed.OK {
			return nil, eris.Errorf("telegram: api error: %s", parsed.Description)
		}
		return parsed.Result, nil
	})
}
