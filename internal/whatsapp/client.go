package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Client sends messages through the messaging platform's Cloud API
type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
	logger        zerolog.Logger
}

// sendTextRequest is the Cloud API text message body
type sendTextRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

// sendResponse is the Cloud API acknowledgement
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// NewClient creates a gateway client from WHATSAPP_API_URL,
// WHATSAPP_PHONE_NUMBER_ID and WHATSAPP_ACCESS_TOKEN
func NewClient(logger zerolog.Logger) (*Client, error) {
	phoneNumberID := os.Getenv("WHATSAPP_PHONE_NUMBER_ID")
	accessToken := os.Getenv("WHATSAPP_ACCESS_TOKEN")
	if phoneNumberID == "" || accessToken == "" {
		return nil, fmt.Errorf("WHATSAPP_PHONE_NUMBER_ID and WHATSAPP_ACCESS_TOKEN are required")
	}

	baseURL := os.Getenv("WHATSAPP_API_URL")
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v19.0"
	}

	return &Client{
		baseURL:       baseURL,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// NewClientWith creates a client with explicit parameters (tests and local
// gateway simulators)
func NewClientWith(baseURL, phoneNumberID, accessToken string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:       baseURL,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SendText delivers a text message and returns the platform's message id
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	reqBody := sendTextRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
	}
	reqBody.Text.Body = body

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", to, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("gateway returned status %d with unparseable body", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != nil {
		msg := "unknown gateway error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("to", to).
			Str("gateway_error", msg).
			Msg("outbound message rejected")
		return "", fmt.Errorf("gateway status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Messages) == 0 {
		return "", fmt.Errorf("gateway accepted the message but returned no id")
	}

	c.logger.Debug().
		Str("to", to).
		Str("message_id", parsed.Messages[0].ID).
		Msg("outbound message accepted")

	return parsed.Messages[0].ID, nil
}
