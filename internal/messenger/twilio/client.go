// Package twilio sends SMS through the Twilio REST API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
)

const defaultBaseURL = "https://api.twilio.com"

// Client is a Messenger backed by Twilio's Messages endpoint.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.Messenger = (*Client)(nil)

// Options configures a Client.
type Options struct {
	AccountSID string
	AuthToken  string
	From       string // default sender number

	// BaseURL overrides the API host, used in tests.
	BaseURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, fmt.Errorf("twilio: account SID and auth token required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		accountSID: opts.AccountSID,
		authToken:  opts.AuthToken,
		from:       opts.From,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type messageResponse struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"` // set on API errors
}

// Send posts one message and returns Twilio's message SID.
func (c *Client) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	from := msg.From
	if from == "" {
		from = c.from
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", from)
	form.Set("Body", msg.Body)
	if msg.MediaURL != "" {
		form.Set("MediaUrl", msg.MediaURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("twilio response: %w", err)
	}

	var parsed messageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("twilio response decode (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("twilio send rejected",
			slog.String("to", msg.To),
			slog.Int("status", resp.StatusCode),
			slog.Int("error_code", parsed.ErrorCode),
		)
		return "", fmt.Errorf("twilio send failed: status %d code %d: %s", resp.StatusCode, parsed.ErrorCode, parsed.Message)
	}
	return parsed.SID, nil
}
