package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeName is the gateway name stored on Stripe payments
const StripeName = "stripe"

// stripeSignatureTolerance is how old a signed webhook may be
const stripeSignatureTolerance = 5 * time.Minute

// zeroDecimalCurrencies are charged in whole units by Stripe
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// StripeConfig holds Stripe credentials
type StripeConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	CancelURL     string
	Timeout       time.Duration
}

// Stripe implements Gateway with Checkout Sessions
type Stripe struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	cancelURL     string
	client        *http.Client
	now           func() time.Time
}

// NewStripe creates a Stripe gateway. Missing credentials are reported on first use.
func NewStripe(cfg StripeConfig) *Stripe {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Stripe{
		baseURL:       baseURL,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		cancelURL:     cfg.CancelURL,
		client:        newHTTPClient(cfg.Timeout),
		now:           time.Now,
	}
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type stripeSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
}

type stripePaymentIntent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeSearchResult struct {
	Data []stripePaymentIntent `json:"data"`
}

type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ClientReferenceID string            `json:"client_reference_id"`
			Metadata          map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// Name returns the gateway name
func (s *Stripe) Name() string { return StripeName }

// Initiate creates a Checkout Session carrying the reference on the payment intent metadata
func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if s.secretKey == "" {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY is not set", ErrNotConfigured)
	}

	currency := strings.ToUpper(req.Currency)
	name := req.Description
	if name == "" {
		name = "Booking " + req.Reference
	}
	cancelURL := s.cancelURL
	if cancelURL == "" {
		cancelURL = req.RedirectURL
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.RedirectURL)
	form.Set("cancel_url", cancelURL)
	form.Set("client_reference_id", req.Reference)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(ToMinorUnits(req.Amount, currency), 10))
	form.Set("line_items[0][price_data][product_data][name]", name)
	form.Set("payment_intent_data[metadata][reference]", req.Reference)
	form.Set("metadata[reference]", req.Reference)
	if req.Customer.Email != "" {
		form.Set("customer_email", req.Customer.Email)
	}
	for k, v := range req.Meta {
		form.Set("metadata["+k+"]", v)
	}

	var session stripeSession
	status, err := s.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &Error{Gateway: StripeName, StatusCode: status, Message: "checkout session not created"}
	}
	if session.URL == "" {
		return nil, &Error{Gateway: StripeName, StatusCode: status, Message: "checkout session has no url"}
	}

	return &InitiateResult{RedirectURL: session.URL, ExternalReference: session.ID}, nil
}

// Verify searches payment intents by the reference metadata. No match is pending.
func (s *Stripe) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if s.secretKey == "" {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY is not set", ErrNotConfigured)
	}

	query := fmt.Sprintf("metadata['reference']:'%s'", strings.ReplaceAll(reference, "'", `\'`))
	path := "/v1/payment_intents/search?query=" + url.QueryEscape(query)

	var result stripeSearchResult
	status, err := s.do(ctx, http.MethodGet, path, nil, &result)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &Error{Gateway: StripeName, StatusCode: status, Message: "payment intent search failed"}
	}
	if len(result.Data) == 0 {
		return &VerifyResult{Status: StatusPending, Reason: "no payment intent yet"}, nil
	}

	intent := pickIntent(result.Data)
	currency := strings.ToUpper(intent.Currency)
	received := intent.AmountReceived
	if received == 0 && intent.Status == "succeeded" {
		received = intent.Amount
	}

	verify := &VerifyResult{
		Status:     stripeStatus(intent.Status),
		ExternalID: intent.ID,
		Amount:     FromMinorUnits(received, currency),
		Currency:   currency,
		Raw: map[string]interface{}{
			"id":              intent.ID,
			"status":          intent.Status,
			"amount":          intent.Amount,
			"amount_received": intent.AmountReceived,
			"currency":        intent.Currency,
		},
	}
	if intent.LastPaymentError != nil {
		verify.Reason = intent.LastPaymentError.Message
	}
	return verify, nil
}

// ParseWebhook checks the Stripe-Signature header and extracts the reference
func (s *Stripe) ParseWebhook(header http.Header, body []byte) (string, error) {
	if s.webhookSecret == "" {
		return "", fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is not set", ErrNotConfigured)
	}
	if err := VerifyStripeSignature(body, header.Get("Stripe-Signature"), s.webhookSecret, s.now()); err != nil {
		return "", err
	}

	var event stripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return "", fmt.Errorf("failed to decode webhook: %w", err)
	}
	obj := event.Data.Object
	reference := nonEmpty(obj.Metadata["reference"], obj.ClientReferenceID)
	if reference == "" {
		return "", fmt.Errorf("%s event carries no reference", event.Type)
	}
	return reference, nil
}

// VerifyStripeSignature validates a "t=...,v1=..." header against HMAC-SHA256(secret, t + "." + payload)
func VerifyStripeSignature(payload []byte, header, secret string, now time.Time) error {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if age := now.Sub(time.Unix(ts, 0)); age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := SignStripePayload(payload, secret, ts)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignStripePayload computes the v1 signature for payload at timestamp ts
func SignStripePayload(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ToMinorUnits converts an amount to the smallest currency unit Stripe charges in
func ToMinorUnits(amount float64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

// FromMinorUnits is the inverse of ToMinorUnits
func FromMinorUnits(amount int64, currency string) float64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return float64(amount)
	}
	return float64(amount) / 100
}

// pickIntent prefers a succeeded intent, then any non-canceled one
func pickIntent(intents []stripePaymentIntent) stripePaymentIntent {
	for _, pi := range intents {
		if pi.Status == "succeeded" {
			return pi
		}
	}
	for _, pi := range intents {
		if pi.Status != "canceled" {
			return pi
		}
	}
	return intents[0]
}

func stripeStatus(status string) Status {
	switch status {
	case "succeeded":
		return StatusPaid
	case "canceled":
		return StatusDeclined
	default:
		return StatusPending
	}
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values, out interface{}) (int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(s.secretKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr stripeError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return resp.StatusCode, &Error{Gateway: StripeName, StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
		}
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, &Error{Gateway: StripeName, StatusCode: resp.StatusCode, Message: "malformed response: " + truncate(string(respBody), 200)}
	}
	return resp.StatusCode, nil
}
