// Package googleads is a small REST client for the Google Ads API covering
// the two calls adsync needs: listing accessible customers and running
// paged GAQL searches against a customer.
package googleads

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/adsync/pkg/errors"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
	"github.com/ajitpratap0/adsync/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Google Ads REST endpoint
	DefaultBaseURL = "https://googleads.googleapis.com"
	// DefaultAPIVersion is the API version used when none is configured
	DefaultAPIVersion = "v21"

	// Scope is the OAuth2 scope required by the Google Ads API
	Scope = "https://www.googleapis.com/auth/adwords"

	defaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 64 << 10
)

// Operation names used as metric labels
const (
	OpSearch                  = "search"
	OpListAccessibleCustomers = "list_accessible_customers"
)

// Config holds the credentials and transport settings of a Client
type Config struct {
	DeveloperToken  string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	BaseURL         string
	// TokenURL overrides google.Endpoint's token URL
	TokenURL        string
	APIVersion      string
	RequestTimeout  time.Duration
	RateLimitPerSec float64
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the OAuth2 transport. The given client must attach
// credentials itself.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records request counts and latency on m
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client calls the Google Ads REST API. A Client is safe for concurrent use;
// ForLogin derives clients that share its transport and rate limiter.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.SyncMetrics

	loginCustomerID string
}

// New creates a client. Unless WithHTTPClient is given, requests are
// authorized with an access token refreshed from config.RefreshToken.
func New(ctx context.Context, config Config, opts ...Option) (*Client, error) {
	if config.DeveloperToken == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "developer token is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.APIVersion == "" {
		config.APIVersion = DefaultAPIVersion
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}

	c := &Client{
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	limit := rate.Inf
	if config.RateLimitPerSec > 0 {
		limit = rate.Limit(config.RateLimitPerSec)
	}
	c.limiter = rate.NewLimiter(limit, 1)

	if c.httpClient == nil {
		if config.ClientID == "" || config.ClientSecret == "" || config.RefreshToken == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "oauth client id, client secret and refresh token are required")
		}
		endpoint := google.Endpoint
		if config.TokenURL != "" {
			endpoint.TokenURL = config.TokenURL
		}
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{Scope},
		}
		ts := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: config.RefreshToken})
		c.httpClient = oauth2.NewClient(ctx, ts)
		c.httpClient.Timeout = config.RequestTimeout
	}

	c.logger = c.logger.With(zap.String("component", "googleads"))
	return c, nil
}

// ForLogin returns a client that sends id as the login-customer-id header.
// An empty id sends no header.
func (c *Client) ForLogin(id string) *Client {
	derived := *c
	derived.loginCustomerID = id
	return &derived
}

// LoginCustomerID returns the login customer this client acts as
func (c *Client) LoginCustomerID() string {
	return c.loginCustomerID
}

func (c *Client) endpoint(path string) string {
	return c.config.BaseURL + "/" + c.config.APIVersion + "/" + path
}

// do performs one API call and returns the response body of a 200 reply
func (c *Client) do(ctx context.Context, operation, method, url string, body interface{}) ([]byte, *errors.Error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait aborted")
	}

	var reqBody io.Reader
	if body != nil {
		data, err := jsonpkg.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to marshal request body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create HTTP request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("developer-token", c.config.DeveloperToken)
	if c.loginCustomerID != "" {
		req.Header.Set("login-customer-id", c.loginCustomerID)
	}

	timer := metrics.NewTimer()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.APILatency.WithLabelValues(operation).Observe(timer.Stop().Seconds())
	}
	if err != nil {
		c.recordRequest(operation, "error")
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	c.recordRequest(operation, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := statusError(resp.StatusCode, data)
		c.logger.Debug("API request failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.Error(apiErr))
		return nil, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}
	return data, nil
}

func (c *Client) recordRequest(operation, code string) {
	if c.metrics != nil {
		c.metrics.APIRequests.WithLabelValues(operation, code).Inc()
	}
}

// transportError classifies a failed round trip
func transportError(err error) *errors.Error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		return errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to refresh access token")
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request aborted")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "HTTP request failed")
}
