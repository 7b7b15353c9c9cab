package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/platform/config"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/phone"
)

// ChannelType is the channel type delivered through the gateway.
const ChannelType = "whatsapp"

// ErrNoPhone is returned when a lead has no usable contact number.
var ErrNoPhone = errors.New("lead has no valid phone number")

// Client sends texts through a gowa-compatible WhatsApp gateway. The channel's
// external ID selects the gateway device.
type Client struct {
	baseURL string
	apiKey  string
	region  string
	http    *http.Client
	log     *logger.Logger
}

type gowaRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

var _ ports.Sender = (*Client)(nil)

// NewClient returns nil when no gateway URL is configured.
func NewClient(cfg config.WhatsAppConfig, log *logger.Logger) *Client {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:  cfg.GetWhatsAppKey(),
		region:  cfg.GetWhatsAppDefaultRegion(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// SendText implements ports.Sender. Channels of other types are skipped.
func (c *Client) SendText(ctx context.Context, channel domain.Channel, lead domain.Lead, text string) error {
	if c == nil {
		return nil
	}
	if channel.Type != "" && channel.Type != ChannelType {
		return nil
	}
	return c.SendMessage(ctx, channel.ExternalID, lead.ContactPhone, text)
}

// SendMessage posts one text to the gateway.
func (c *Client) SendMessage(ctx context.Context, deviceID, phoneNumber, message string) error {
	if c == nil {
		return nil
	}

	normalized := phone.Digits(phoneNumber, c.region)
	if normalized == "" {
		return ErrNoPhone
	}

	body, err := json.Marshal(gowaRequest{
		Phone:   normalized,
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/send/message", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if deviceID != "" {
		req.Header.Set("X-Device-Id", deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if c.log != nil {
		c.log.Debug("whatsapp sent via gowa", "phone", normalized, "device_id", deviceID)
	}
	return nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
