// Package whatsapp talks to the Meta Graph API: sending text messages and
// parsing/verifying inbound webhook payloads.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chamikara/helachat/internal/logging"
)

// DefaultGraphURL is the Meta Graph API base.
const DefaultGraphURL = "https://graph.facebook.com/v19.0"

// Sender delivers outbound messages.
type Sender interface {
	// SendText sends a plain text message and returns the WhatsApp message ID.
	SendText(ctx context.Context, to, body string) (string, error)
}

// Client implements Sender against the Graph API.
type Client struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	client        *http.Client
	log           *logging.Logger
}

// ClientConfig configures the Graph API client.
type ClientConfig struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
}

// NewClient creates a Graph API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:       cfg.BaseURL,
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		client:        &http.Client{Timeout: cfg.Timeout},
		log:           logging.Global().WithComponent("WhatsApp"),
	}
}

// Available reports whether credentials are configured.
func (c *Client) Available() bool {
	return c.accessToken != "" && c.phoneNumberID != ""
}

type sendTextRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText posts a text message to the recipient's phone number.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("whatsapp credentials not configured")
	}

	payload := sendTextRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send failed (status %d): %s", resp.StatusCode, sr.Error.Message)
	}
	if len(sr.Messages) == 0 {
		return "", fmt.Errorf("send succeeded but no message ID returned")
	}

	c.log.Debug("sent message %s to %s", sr.Messages[0].ID, to)
	return sr.Messages[0].ID, nil
}
