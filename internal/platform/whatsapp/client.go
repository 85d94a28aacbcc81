// Package whatsapp delivers replies to patients on WhatsApp through an HTTP
// messaging provider.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"saathimed/internal/logging"
)

// Client posts text messages to the provider's send endpoint.
type Client struct {
	URL        string
	APIKey     string
	httpClient *http.Client
}

func NewClient(url, apiKey string) *Client {
	return &Client{
		URL:    url,
		APIKey: apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendReq struct {
	Phone string `json:"phone"`
	Type  string `json:"type"`
	Text  string `json:"text"`
}

func (c *Client) Send(ctx context.Context, phone, text string) error {
	jsonBody, err := json.Marshal(sendReq{Phone: phone, Type: "text", Text: text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp api returned status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

// LogSender only logs outgoing messages. It is used when no provider is
// configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{logger: logging.New("whatsapp")}
}

func (s *LogSender) Send(_ context.Context, phone, text string) error {
	s.logger.Info("outgoing message", logging.Phone(phone), "text", text)
	return nil
}
