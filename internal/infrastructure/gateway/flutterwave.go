package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autopay/internal/config"
)

// ErrVerification covers every failure to obtain an answer from the gateway:
// transport errors, timeouts, non-200 responses and undecodable bodies.
var ErrVerification = errors.New("gateway verification failed")

const (
	verifyPath      = "/transactions/%d/verify"
	maxResponseSize = 1 << 20
)

// Client calls the gateway's verify-by-id endpoint.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient builds a verifier. A nil httpClient gets one bounded by cfg.VerifyTimeout.
func NewClient(cfg *config.GatewayConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.VerifyTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		httpClient: httpClient,
	}
}

// Verify makes exactly one request. Callers bound it with ctx; there is no retry.
func (c *Client) Verify(ctx context.Context, gatewayTxID int64) (*Verification, error) {
	url := c.baseURL + fmt.Sprintf(verifyPath, gatewayTxID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrVerification, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrVerification, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrVerification, resp.StatusCode)
	}

	var env verifyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrVerification, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: response has no data (status %q: %s)", ErrVerification, env.Status, env.Message)
	}

	d := env.Data
	return &Verification{
		Status:       env.Status,
		ChargeStatus: d.Status,
		ID:           d.ID,
		TxRef:        d.TxRef,
		FlwRef:       d.FlwRef,
		Amount:       int64(math.Round(d.Amount)),
		Currency:     d.Currency,
		Customer:     d.Customer,
		Meta:         d.Meta,
	}, nil
}

type verifyEnvelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    *verifyData `json:"data"`
}

type verifyData struct {
	ID       int64    `json:"id"`
	TxRef    string   `json:"tx_ref"`
	FlwRef   string   `json:"flw_ref"`
	Amount   float64  `json:"amount"`
	Currency string   `json:"currency"`
	Status   string   `json:"status"`
	Customer Customer `json:"customer"`
	Meta     Meta     `json:"meta"`
}

// Verification is the gateway's authoritative view of a charge.
type Verification struct {
	Status       string
	ChargeStatus string
	ID           int64
	TxRef        string
	FlwRef       string
	Amount       int64
	Currency     string
	Customer     Customer
	Meta         Meta
}

// Successful is true only when both the API call and the charge succeeded.
func (v *Verification) Successful() bool {
	return v.Status == "success" && strings.EqualFold(v.ChargeStatus, "successful")
}

// Pending is true while the gateway has not decided the charge yet. Such a
// charge may still succeed, so it must not be recorded as a final status.
func (v *Verification) Pending() bool {
	return strings.EqualFold(strings.TrimSpace(v.ChargeStatus), "pending")
}

// FinalStatus is the status to persist for an unsuccessful, decided charge.
// An empty charge status is recorded as "error".
func (v *Verification) FinalStatus() string {
	s := strings.ToLower(strings.TrimSpace(v.ChargeStatus))
	if s == "" {
		return "error"
	}
	return s
}

type Customer struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

// Meta is the custom metadata attached when the payment was initiated.
type Meta struct {
	FeeType  string   `json:"fee_type"`
	Part     string   `json:"part"`
	Donation FlexBool `json:"donation"`
	RegNo    string   `json:"reg_no"`
}

// FlexBool accepts true, "true", 1 and "1". The gateway echoes metadata back
// as strings even when it was sent as a boolean.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*b = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("flexbool: %q", s)
	}
	*b = FlexBool(v)
	return nil
}
