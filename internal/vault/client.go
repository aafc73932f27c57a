package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vaultinsights/internal/domain"
)

const (
	projectAPIPath = "api/projects"
	mediaType      = "application/vnd.api+json"
	defaultTimeout = 30 * time.Second
)

// ErrUnauthorized is returned when the vault rejects the configured key/token.
var ErrUnauthorized = errors.New("invalid credentials provided, check your configuration file")

// Client is a minimal vault HTTP API client.
type Client struct {
	BaseURL    string
	Key        string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a client whose *http.Client is shared by every request.
func New(baseURL, key, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    baseURL,
		Key:        key,
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ProjectURL returns the API URL for one project.
func (c *Client) ProjectURL(id int) string {
	return c.base() + "/" + projectAPIPath + "/" + strconv.Itoa(id)
}

// FetchProject issues the GET for one project. Transport failures and non-2xx
// responses degrade to a Failed outcome; only a 401 is returned as an error.
func (c *Client) FetchProject(ctx context.Context, id int) (domain.FetchOutcome, error) {
	body, err := c.get(ctx, c.ProjectURL(id))
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return domain.FetchOutcome{}, ErrUnauthorized
		}
		if ctx.Err() != nil {
			return domain.FetchOutcome{}, ctx.Err()
		}
		c.logger().Warn("failed to fetch project", "project_id", id, "error", err)
		return domain.Failed(), nil
	}
	return domain.Body(body), nil
}

func (c *Client) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", mediaType)
	req.Header.Set("Content-Type", mediaType)
	req.SetBasicAuth(c.Key, c.Token)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return string(b), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
