package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// ErrNoReport is returned by Report when the daemon has not attempted a
// startup yet.
var ErrNoReport = errors.New("no startup attempted yet")

// Client talks to a running omnixd daemon over its control-plane API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns the configuration for a local plain-HTTP daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:9001",
		Timeout: 10 * time.Second,
	}
}

// InsecureConfig returns a TLS configuration that skips verification, for
// daemons running with auto-generated certificates.
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://127.0.0.1:9001",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// New creates an omnixd API client with TLS support.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:9001"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	if _, err := c.Phase(ctx); err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	return true
}

// Phase returns the daemon lifecycle phase from /healthz.
func (c *Client) Phase(ctx context.Context) (string, error) {
	var pr struct {
		Phase string `json:"phase"`
	}
	if err := c.getJSON(ctx, "/healthz", &pr); err != nil {
		return "", err
	}
	return pr.Phase, nil
}

// StatusAll returns the status of every registered service in declared order.
func (c *Client) StatusAll(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	if err := c.getJSON(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns the status of one service by name.
func (c *Client) Status(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	err := c.getJSON(ctx, "/status?name="+url.QueryEscape(name), &out)
	return out, err
}

// Report returns the report of the most recent startup sequence.
func (c *Client) Report(ctx context.Context) (*StartupReport, error) {
	var out StartupReport
	err := c.doJSON(ctx, http.MethodGet, "/report", &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrNoReport
		}
		return nil, err
	}
	return &out, nil
}

// Start launches one service by name and waits for its health gate.
func (c *Client) Start(ctx context.Context, name string) (ServiceResult, error) {
	c.logger.Debug("starting service", "name", name)
	var out ServiceResult
	err := c.doJSON(ctx, http.MethodPost, "/services/start?name="+url.QueryEscape(name), &out)
	return out, err
}

// Stop gracefully stops one service by name.
func (c *Client) Stop(ctx context.Context, name string) error {
	c.logger.Debug("stopping service", "name", name)
	return c.doJSON(ctx, http.MethodPost, "/services/stop?name="+url.QueryEscape(name), nil)
}

// Restart stops one service and launches it again.
func (c *Client) Restart(ctx context.Context, name string) (ServiceResult, error) {
	c.logger.Debug("restarting service", "name", name)
	var out ServiceResult
	err := c.doJSON(ctx, http.MethodPost, "/services/restart?name="+url.QueryEscape(name), &out)
	return out, err
}

// APIError is a non-2xx daemon response carrying the decoded error message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, out)
}

// doJSON performs the request and decodes a 2xx body into out (skipped when
// out is nil). Non-2xx responses come back as *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: resp.StatusCode}
		var er ErrorResponse
		if derr := json.NewDecoder(resp.Body).Decode(&er); derr == nil {
			apiErr.Message = er.Error
		}
		c.logger.Debug("API request failed", "method", method, "path", path, "status", resp.StatusCode, "error", apiErr.Message)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
