// Package payment initiates charges against an HTTP payment gateway.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
)

type Config struct {
	BaseURL  string
	APIKey   string
	Currency string
	Timeout  time.Duration
}

type Client struct {
	http   *fasthttp.Client
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		http:   &fasthttp.Client{ReadTimeout: cfg.Timeout, WriteTimeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

type chargeRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	PayerRef string `json:"payer_ref"`
}

// Initiate asks the gateway to start a charge. The idempotency key is passed
// through so a retried call cannot double charge.
func (c *Client) Initiate(ctx context.Context, amount float64, payerRef, idempotencyKey string) (domain.PaymentResult, error) {
	if amount <= 0 || payerRef == "" || idempotencyKey == "" {
		return domain.PaymentResult{}, domain.ErrInvalidPayload
	}
	body, err := json.Marshal(chargeRequest{
		// minor units
		Amount:   int64(math.Round(amount * 100)),
		Currency: c.cfg.Currency,
		PayerRef: payerRef,
	})
	if err != nil {
		return domain.PaymentResult{}, err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.BaseURL + "/charges")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.SetBody(body)

	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return domain.PaymentResult{}, domain.WrapError(domain.ErrCodeRemoteUnavailable, "payment deadline exceeded", ctx.Err())
	}

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return domain.PaymentResult{}, domain.WrapError(domain.ErrCodeRemoteUnavailable, "payment gateway unreachable", err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 500:
		return domain.PaymentResult{}, domain.WrapError(domain.ErrCodeRemoteUnavailable, fmt.Sprintf("payment gateway returned %d", status), nil)
	case status == fasthttp.StatusPaymentRequired || status == fasthttp.StatusUnprocessableEntity:
		var res domain.PaymentResult
		_ = json.Unmarshal(resp.Body(), &res)
		res.Accepted = false
		return res, nil
	case status >= 400:
		return domain.PaymentResult{}, domain.WrapError(domain.ErrCodeValidation, fmt.Sprintf("payment gateway rejected request with %d", status), nil)
	}

	var res domain.PaymentResult
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return domain.PaymentResult{}, domain.WrapError(domain.ErrCodeRemoteUnavailable, "payment gateway returned malformed body", err)
	}
	c.logger.Info("payment initiated", zap.String("payer", payerRef), zap.Bool("accepted", res.Accepted))
	return res, nil
}
