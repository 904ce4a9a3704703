// Package messenger delivers answers back to the user through the Graph API
// messaging endpoint.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/verificaicode/verifica-ai/internal/types"
)

// Sender delivers one text message to a user. Satisfied by Client; faked in
// tests and by the /verify endpoint.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// Client posts messages to the Graph API.
type Client struct {
	baseURL     string
	accessToken string
	http        *http.Client
	logger      *zap.Logger
}

// New creates a Graph API client. baseURL carries the API version, e.g.
// "https://graph.instagram.com/v22.0".
func New(baseURL, accessToken string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, accessToken: accessToken, http: httpClient, logger: logger}
}

var _ Sender = (*Client)(nil)

type sendPayload struct {
	MessagingProduct string `json:"messaging_product"`
	Recipient        struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type sendResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send posts one text message. A Graph-level error in the response body is
// surfaced as *types.GraphAPIError so callers can special-case the
// message-too-long rejection.
func (c *Client) Send(ctx context.Context, userID, text string) error {
	payload := sendPayload{MessagingProduct: "instagram"}
	payload.Recipient.ID = userID
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/me/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph send: %w", err)
	}
	defer resp.Body.Close()

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		// The Graph API occasionally answers a successful send with an
		// empty body.
		if errors.Is(err, io.EOF) {
			if resp.StatusCode < http.StatusMultipleChoices {
				c.logger.Debug("message sent", zap.String("user", userID), zap.Int("len", len(text)))
				return nil
			}
			return fmt.Errorf("graph send: unexpected status %s", resp.Status)
		}
		return fmt.Errorf("decoding graph response: %w", err)
	}
	if decoded.Error != nil {
		c.logger.Warn("graph send rejected",
			zap.String("user", userID),
			zap.String("message", decoded.Error.Message))
		return &types.GraphAPIError{Message: decoded.Error.Message}
	}

	c.logger.Debug("message sent", zap.String("user", userID), zap.Int("len", len(text)))
	return nil
}
