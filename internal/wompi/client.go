package wompi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	gobreakerlib "github.com/sony/gobreaker"

	"github.com/clubpicks/subsbot/internal/circuitbreaker"
	"github.com/clubpicks/subsbot/internal/config"
	"github.com/clubpicks/subsbot/internal/errors"
	"github.com/clubpicks/subsbot/internal/logger"
)

const maxErrorDetail = 200

// PaymentLink is the gateway-assigned identity of a hosted payment page.
type PaymentLink struct {
	ID  string
	URL string
}

// Client talks to the Wompi payment-link API. The bearer credential is cached
// process-wide and fetched lazily; it carries no expiry metadata, so an auth
// failure invalidates the cache and refetches exactly once before surfacing.
type Client struct {
	cfg      config.WompiConfig
	http     *http.Client
	breakers *circuitbreaker.Manager

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// NewClient builds a gateway client with a fixed request timeout and pooled
// transport, in front of the configured circuit breakers.
func NewClient(cfg config.WompiConfig, breakers *circuitbreaker.Manager) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout.Duration,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breakers: breakers,
	}
}

// Token returns the cached bearer credential, fetching it on first need.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenLocked(ctx)
}

func (c *Client) tokenLocked(ctx context.Context) (string, error) {
	if c.token != "" {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"audience":      {c.cfg.Audience},
	}

	result, err := c.breakers.Execute(circuitbreaker.ServiceWompiIdentity, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IdentityURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("identity endpoint returned %d: %s", resp.StatusCode, logger.TruncateDetail(string(body), maxErrorDetail))
		}

		var payload struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode token response: %w", err)
		}
		if payload.AccessToken == "" {
			return nil, fmt.Errorf("token response missing access_token")
		}
		return payload.AccessToken, nil
	})
	if err != nil {
		if err == gobreakerlib.ErrOpenState || err == gobreakerlib.ErrTooManyRequests {
			return "", errors.Wrap(errors.ErrCodeGatewayUnavailable, "identity breaker open", err)
		}
		return "", errors.Wrap(errors.ErrCodeGatewayAuth, "fetch gateway credential", err)
	}

	c.token = result.(string)
	c.fetchedAt = time.Now()
	return c.token, nil
}

// invalidateToken drops the cached credential so the next call refetches.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// CreatePaymentLink creates a hosted payment link for the given reference and
// amount. The gateway decides the link identifier and payable URL.
func (c *Client) CreatePaymentLink(ctx context.Context, reference string, amount decimal.Decimal, productName string) (PaymentLink, error) {
	payload := map[string]any{
		"identificadorEnlaceComercio": reference,
		"monto":                       amount.InexactFloat64(),
		"nombreProducto":              productName,
		"configuracion": map[string]any{
			"emailsNotificacion": c.cfg.NotificationEmails,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return PaymentLink{}, errors.Wrap(errors.ErrCodeGatewayRequest, "encode link request", err)
	}

	data, err := c.doAuthorized(ctx, http.MethodPost, c.cfg.APIBase+"/EnlacePago", body)
	if err != nil {
		return PaymentLink{}, err
	}

	// The gateway has shipped both idEnlace/urlEnlace and id/url shapes.
	link := PaymentLink{
		ID:  firstString(data, "idEnlace", "id"),
		URL: firstString(data, "urlEnlace", "url"),
	}
	if link.ID == "" || link.URL == "" {
		return PaymentLink{}, errors.New(errors.ErrCodeGatewayRequest, "link response missing id or url")
	}
	return link, nil
}

// GetLinkDetail fetches the current transaction detail for a payment link.
// The payload shape varies by gateway version; callers interpret it through
// InferOutcome rather than assuming a schema.
func (c *Client) GetLinkDetail(ctx context.Context, linkID string) (map[string]any, error) {
	return c.doAuthorized(ctx, http.MethodGet, c.cfg.APIBase+"/EnlacePago/"+url.PathEscape(linkID), nil)
}

// doAuthorized performs a bearer-authorized API call. A 401 invalidates the
// cached credential and the request is retried once with a fresh token; every
// other failure surfaces without retry.
func (c *Client) doAuthorized(ctx context.Context, method, endpoint string, body []byte) (map[string]any, error) {
	data, status, err := c.attempt(ctx, method, endpoint, body)
	if status == http.StatusUnauthorized {
		c.invalidateToken()
		data, status, err = c.attempt(ctx, method, endpoint, body)
	}
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, errors.New(errors.ErrCodeGatewayAuth, "gateway rejected refreshed credential")
	}
	return data, nil
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte) (map[string]any, int, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	result, err := c.breakers.Execute(circuitbreaker.ServiceWompiAPI, func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return attemptResult{status: resp.StatusCode, body: raw}, nil
	})
	if err != nil {
		if err == gobreakerlib.ErrOpenState || err == gobreakerlib.ErrTooManyRequests {
			return nil, 0, errors.Wrap(errors.ErrCodeGatewayUnavailable, "gateway breaker open", err)
		}
		return nil, 0, errors.Wrap(errors.ErrCodeGatewayRequest, method+" "+endpoint, err)
	}

	res := result.(attemptResult)
	if res.status == http.StatusUnauthorized {
		return nil, res.status, nil
	}
	if res.status < 200 || res.status >= 300 {
		return nil, res.status, errors.New(errors.ErrCodeGatewayRequest,
			fmt.Sprintf("gateway returned %d: %s", res.status, logger.TruncateDetail(string(res.body), maxErrorDetail)))
	}

	decoder := json.NewDecoder(bytes.NewReader(res.body))
	decoder.UseNumber()
	var data map[string]any
	if err := decoder.Decode(&data); err != nil {
		return nil, res.status, errors.Wrap(errors.ErrCodeGatewayRequest, "decode gateway response", err)
	}
	return data, res.status, nil
}

type attemptResult struct {
	status int
	body   []byte
}

// firstString returns the first present key rendered as a string; numeric ids
// keep their literal form thanks to json.Number decoding.
func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := data[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
