package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/reliefportal/internal/logger"
)

// TwilioConfig holds Twilio Verify credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
	BaseURL    string
	// CountryCode is prepended to ten digit national numbers.
	CountryCode string
	Timeout     time.Duration
}

// TwilioEngine delegates code generation, delivery and checking to Twilio
// Verify. Twilio enforces single use and expiry on its side.
type TwilioEngine struct {
	cfg  TwilioConfig
	http *http.Client
	log  *zap.Logger
}

// NewTwilioEngine constructs a TwilioEngine. A nil client gets one with the
// configured timeout.
func NewTwilioEngine(cfg TwilioConfig, client *http.Client, log *zap.Logger) *TwilioEngine {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://verify.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TwilioEngine{cfg: cfg, http: client, log: log}
}

func (e *TwilioEngine) Name() string { return "twilio" }

type twilioVerification struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *TwilioEngine) Send(ctx context.Context, mobile string, purpose Purpose) (*Dispatch, error) {
	form := url.Values{}
	form.Set("To", e.e164(mobile))
	form.Set("Channel", "sms")

	var out twilioVerification
	status, err := e.post(ctx, "/Verifications", form, &out)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("%w: twilio status %d", ErrDelivery, status)
	}

	e.log.Info("otp dispatched",
		zap.String("provider", e.Name()),
		zap.String("mobile", logger.MaskMobile(mobile)),
		zap.String("purpose", string(purpose)),
		zap.String("verificationSid", out.SID),
	)
	return &Dispatch{Provider: e.Name()}, nil
}

func (e *TwilioEngine) Verify(ctx context.Context, mobile string, _ Purpose, code string) error {
	form := url.Values{}
	form.Set("To", e.e164(mobile))
	form.Set("Code", code)

	var out twilioVerification
	status, err := e.post(ctx, "/VerificationCheck", form, &out)
	if err != nil {
		return err
	}
	// Twilio answers 404 once a verification expired, was approved or was
	// never started.
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status >= 300 {
		return fmt.Errorf("%w: twilio status %d", ErrDelivery, status)
	}
	if out.Status != "approved" {
		return ErrMismatch
	}
	return nil
}

// post sends a form to the service and decodes 2xx bodies into out. Non 2xx
// statuses other than 404 come back as ErrDelivery carrying Twilio's message.
func (e *TwilioEngine) post(ctx context.Context, path string, form url.Values, out any) (int, error) {
	endpoint := e.cfg.BaseURL + "/v2/Services/" + url.PathEscape(e.cfg.ServiceSID) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("twilio request build: %w", err)
	}
	req.SetBasicAuth(e.cfg.AccountSID, e.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var te twilioError
		if json.Unmarshal(body, &te) == nil && te.Message != "" {
			return resp.StatusCode, fmt.Errorf("%w: %s", ErrDelivery, te.Message)
		}
		return resp.StatusCode, fmt.Errorf("%w: twilio status %d", ErrDelivery, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decode response: %v", ErrDelivery, err)
	}
	return resp.StatusCode, nil
}

func (e *TwilioEngine) e164(mobile string) string {
	if strings.HasPrefix(mobile, "+") {
		return mobile
	}
	return e.cfg.CountryCode + mobile
}
