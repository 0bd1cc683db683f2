package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tembera/booking-backend/pkg/validator"
)

// Gateway sends a single text message
type Gateway interface {
	Send(ctx context.Context, phone, message string) error
}

// HTTPConfig holds configuration for a bearer-token SMS API
type HTTPConfig struct {
	APIURL string
	APIKey string
	Sender string
}

// HTTPGateway sends SMS through a JSON API that takes {to, text, sender}
// with a bearer token, the shape used by the Rwandan SMS aggregators.
type HTTPGateway struct {
	apiURL    string
	apiKey    string
	sender    string
	client    *http.Client
	validator *validator.PhoneValidator
}

// NewHTTPGateway creates a new SMS gateway client
func NewHTTPGateway(config HTTPConfig) *HTTPGateway {
	return &HTTPGateway{
		apiURL:    config.APIURL,
		apiKey:    config.APIKey,
		sender:    config.Sender,
		validator: validator.NewPhoneValidator(),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendRequest represents the SMS sending request structure
type SendRequest struct {
	To     string `json:"to"`
	Text   string `json:"text"`
	Sender string `json:"sender,omitempty"`
}

// SendResponse represents the SMS sending response structure
type SendResponse struct {
	SMSID   int64  `json:"sms_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Send delivers message to a Rwandan mobile number
func (g *HTTPGateway) Send(ctx context.Context, phone, message string) error {
	to, err := g.validator.E164(phone)
	if err != nil {
		return fmt.Errorf("invalid phone number: %w", err)
	}

	data, err := json.Marshal(SendRequest{To: to, Text: message, Sender: g.sender})
	if err != nil {
		return fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read SMS response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var sendResp SendResponse
		if json.Unmarshal(body, &sendResp) == nil && sendResp.Message != "" {
			return fmt.Errorf("SMS API returned %d: %s", resp.StatusCode, sendResp.Message)
		}
		return fmt.Errorf("SMS API returned %d", resp.StatusCode)
	}

	return nil
}
