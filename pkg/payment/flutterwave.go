package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FlutterwaveName is the gateway name stored on Flutterwave payments
const FlutterwaveName = "flutterwave"

// FlutterwaveConfig holds Flutterwave credentials
type FlutterwaveConfig struct {
	BaseURL     string
	SecretKey   string
	WebhookHash string
	Timeout     time.Duration
}

// Flutterwave implements Gateway against the Flutterwave v3 Standard API
type Flutterwave struct {
	baseURL     string
	secretKey   string
	webhookHash string
	client      *http.Client
}

// NewFlutterwave creates a Flutterwave gateway. Missing credentials are reported on first use.
func NewFlutterwave(cfg FlutterwaveConfig) *Flutterwave {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.flutterwave.com"
	}
	return &Flutterwave{
		baseURL:     baseURL,
		secretKey:   cfg.SecretKey,
		webhookHash: cfg.WebhookHash,
		client:      newHTTPClient(cfg.Timeout),
	}
}

type flutterwaveCustomer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber,omitempty"`
	Name        string `json:"name,omitempty"`
}

type flutterwaveCustomizations struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type flutterwavePaymentRequest struct {
	TxRef          string                    `json:"tx_ref"`
	Amount         float64                   `json:"amount"`
	Currency       string                    `json:"currency"`
	RedirectURL    string                    `json:"redirect_url"`
	Customer       flutterwaveCustomer       `json:"customer"`
	Customizations flutterwaveCustomizations `json:"customizations"`
	Meta           map[string]string         `json:"meta,omitempty"`
}

type flutterwavePaymentResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

type flutterwaveTransaction struct {
	ID              int64   `json:"id"`
	TxRef           string  `json:"tx_ref"`
	FlwRef          string  `json:"flw_ref"`
	Amount          float64 `json:"amount"`
	ChargedAmount   float64 `json:"charged_amount"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
	ProcessorReason string  `json:"processor_response"`
}

type flutterwaveVerifyResponse struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Data    flutterwaveTransaction `json:"data"`
}

// flutterwaveWebhook is the body of a charge.completed event
type flutterwaveWebhook struct {
	Event string `json:"event"`
	Data  struct {
		TxRef  string `json:"tx_ref"`
		Status string `json:"status"`
	} `json:"data"`
	// legacy webhook format puts txRef at the top level
	TxRef string `json:"txRef"`
}

// Name returns the gateway name
func (f *Flutterwave) Name() string { return FlutterwaveName }

// Initiate creates a hosted payment link for the reference
func (f *Flutterwave) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if f.secretKey == "" {
		return nil, fmt.Errorf("%w: FLUTTERWAVE_SECRET_KEY is not set", ErrNotConfigured)
	}

	email := req.Customer.Email
	if email == "" {
		// Flutterwave requires an email on the customer object
		email = "customer@noreply.invalid"
	}

	title := req.Description
	if title == "" {
		title = "Booking payment"
	}

	payload := flutterwavePaymentRequest{
		TxRef:       req.Reference,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		RedirectURL: req.RedirectURL,
		Customer: flutterwaveCustomer{
			Email:       email,
			PhoneNumber: req.Customer.Phone,
			Name:        req.Customer.Name,
		},
		Customizations: flutterwaveCustomizations{Title: title},
		Meta:           req.Meta,
	}

	var resp flutterwavePaymentResponse
	status, err := f.do(ctx, http.MethodPost, "/v3/payments", payload, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 300 || resp.Status != "success" || resp.Data.Link == "" {
		return nil, &Error{Gateway: FlutterwaveName, StatusCode: status, Message: nonEmpty(resp.Message, "payment link not returned")}
	}

	return &InitiateResult{RedirectURL: resp.Data.Link}, nil
}

// Verify looks the reference up by tx_ref. Unknown references are pending.
func (f *Flutterwave) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if f.secretKey == "" {
		return nil, fmt.Errorf("%w: FLUTTERWAVE_SECRET_KEY is not set", ErrNotConfigured)
	}

	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)

	var resp flutterwaveVerifyResponse
	status, err := f.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound, status == http.StatusBadRequest && resp.Status == "error":
		// "No transaction was found for this id": the customer has not paid yet
		return &VerifyResult{Status: StatusPending, Reason: resp.Message}, nil
	case status >= 300:
		return nil, &Error{Gateway: FlutterwaveName, StatusCode: status, Message: nonEmpty(resp.Message, "verification failed")}
	}

	tx := resp.Data
	result := &VerifyResult{
		Status:   flutterwaveStatus(tx.Status),
		Amount:   tx.Amount,
		Currency: strings.ToUpper(tx.Currency),
		Reason:   tx.ProcessorReason,
		Raw: map[string]interface{}{
			"id":       tx.ID,
			"tx_ref":   tx.TxRef,
			"flw_ref":  tx.FlwRef,
			"status":   tx.Status,
			"amount":   tx.Amount,
			"currency": tx.Currency,
		},
	}
	if tx.ID != 0 {
		result.ExternalID = fmt.Sprintf("%d", tx.ID)
	}
	return result, nil
}

// ParseWebhook checks the verif-hash header and extracts tx_ref
func (f *Flutterwave) ParseWebhook(header http.Header, body []byte) (string, error) {
	if f.webhookHash == "" {
		return "", fmt.Errorf("%w: FLUTTERWAVE_WEBHOOK_HASH is not set", ErrNotConfigured)
	}
	got := header.Get("verif-hash")
	if subtle.ConstantTimeCompare([]byte(got), []byte(f.webhookHash)) != 1 {
		return "", ErrInvalidSignature
	}

	var event flutterwaveWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		return "", fmt.Errorf("failed to decode webhook: %w", err)
	}
	reference := nonEmpty(event.Data.TxRef, event.TxRef)
	if reference == "" {
		return "", fmt.Errorf("webhook carries no tx_ref")
	}
	return reference, nil
}

func flutterwaveStatus(status string) Status {
	switch strings.ToLower(status) {
	case "successful":
		return StatusPaid
	case "failed", "cancelled":
		return StatusDeclined
	default:
		return StatusPending
	}
}

// do sends a JSON request and decodes the JSON response into out, returning the HTTP status.
// Transport failures are returned as errors; HTTP status handling is left to the caller.
func (f *Flutterwave) do(ctx context.Context, method, path string, payload interface{}, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("flutterwave request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &Error{Gateway: FlutterwaveName, StatusCode: resp.StatusCode, Message: "malformed response: " + truncate(string(respBody), 200)}
		}
	}
	return resp.StatusCode, nil
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
