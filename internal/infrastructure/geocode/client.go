// Package geocode resolves free-text addresses through a Nominatim-compatible API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fastygo/agriconnect/domain"
)

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RateLimit is requests per second; public Nominatim allows one.
	RateLimit float64
}

type Client struct {
	http    *fasthttp.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		http: &fasthttp.Client{
			Name:         cfg.UserAgent,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		logger:  logger,
	}
}

type place struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve returns nil coordinates when the address is unknown. Errors are
// transient and classified as REMOTE_UNAVAILABLE.
func (c *Client) Resolve(ctx context.Context, address string) (*domain.Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrCodeRemoteUnavailable, "geocoder throttled", err)
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("q", address)
	args.Set("format", "json")
	args.Set("limit", "1")

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/search?%s", c.cfg.BaseURL, args.QueryString()))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.SetUserAgent(c.cfg.UserAgent)
	}

	if err := c.http.DoTimeout(req, resp, timeoutFor(ctx, c.cfg.Timeout)); err != nil {
		return nil, domain.WrapError(domain.ErrCodeRemoteUnavailable, "geocoder request failed", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, domain.WrapError(domain.ErrCodeRemoteUnavailable, fmt.Sprintf("geocoder returned %d", resp.StatusCode()), nil)
	}

	var places []place
	if err := json.Unmarshal(resp.Body(), &places); err != nil {
		return nil, domain.WrapError(domain.ErrCodeRemoteUnavailable, "geocoder returned malformed body", err)
	}
	if len(places) == 0 {
		return nil, nil
	}
	lat, latErr := strconv.ParseFloat(places[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(places[0].Lon, 64)
	if latErr != nil || lngErr != nil {
		c.logger.Debug("geocoder result without numeric coordinates", zap.String("address", address))
		return nil, nil
	}
	return &domain.Coordinates{Lat: lat, Lng: lng}, nil
}

func timeoutFor(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < fallback {
			if remaining <= 0 {
				return time.Millisecond
			}
			return remaining
		}
	}
	return fallback
}
