package payment

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/fastygo/agriconnect/domain"
)

func serve(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, handler) }()
	t.Cleanup(func() { _ = ln.Close() })

	c := New(Config{BaseURL: "http://payments.test", APIKey: "sk_test", Currency: "KES"}, nil)
	c.http.Dial = func(string) (net.Conn, error) { return ln.Dial() }
	return c
}

func TestInitiate(t *testing.T) {
	var charge chargeRequest
	var key, auth string
	c := serve(t, func(ctx *fasthttp.RequestCtx) {
		key = string(ctx.Request.Header.Peek("Idempotency-Key"))
		auth = string(ctx.Request.Header.Peek("Authorization"))
		_ = json.Unmarshal(ctx.PostBody(), &charge)
		switch charge.PayerRef {
		case "buyer-ok":
			ctx.SetBodyString(`{"accepted":true,"reference":"ch_1"}`)
		case "buyer-declined":
			ctx.SetStatusCode(fasthttp.StatusPaymentRequired)
			ctx.SetBodyString(`{"accepted":true,"reason":"insufficient funds"}`)
		case "buyer-bad":
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
		default:
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
		}
	})
	ctx := context.Background()

	res, err := c.Initiate(ctx, 12.5, "buyer-ok", "buyer-ok/k1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentResult{Accepted: true, Reference: "ch_1"}, res)
	assert.Equal(t, int64(1250), charge.Amount)
	assert.Equal(t, "KES", charge.Currency)
	assert.Equal(t, "buyer-ok/k1", key)
	assert.Equal(t, "Bearer sk_test", auth)

	res, err = c.Initiate(ctx, 5, "buyer-declined", "k2")
	require.NoError(t, err)
	assert.False(t, res.Accepted, "a declined charge is never reported as accepted")
	assert.Equal(t, "insufficient funds", res.Reason)

	_, err = c.Initiate(ctx, 5, "buyer-bad", "k3")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeValidation))

	_, err = c.Initiate(ctx, 5, "buyer-down", "k4")
	assert.True(t, domain.IsDomainError(err, domain.ErrCodeRemoteUnavailable))
}

func TestInitiateValidatesInput(t *testing.T) {
	c := New(Config{BaseURL: "http://payments.test"}, nil)
	for _, tc := range []struct {
		amount     float64
		payer, key string
	}{
		{0, "buyer", "k"},
		{10, "", "k"},
		{10, "buyer", ""},
	} {
		_, err := c.Initiate(context.Background(), tc.amount, tc.payer, tc.key)
		assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	}
}
