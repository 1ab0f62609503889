// Package trello creates cards on a Trello list through the REST API.
package trello

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public Trello API host.
const DefaultBaseURL = "https://api.trello.com"

// maxErrorBody caps how much of an error response is kept for logs.
const maxErrorBody = 2048

// Opts holds configuration options for the Trello client.
type Opts struct {
	APIKey     string
	Token      string
	ListID     string
	BoardID    string
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Trello client.
type Option func(*Opts)

// WithAPIKey sets the Trello API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithToken sets the Trello API token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithListID sets the list new cards are created in.
func WithListID(id string) Option {
	return func(o *Opts) { o.ListID = id }
}

// WithBoardID records the board the list belongs to. It is only logged.
func WithBoardID(id string) Option {
	return func(o *Opts) { o.BoardID = id }
}

// WithBaseURL overrides the API host, mainly for tests.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// HTTPError is returned when Trello answers with a non-2xx status.
type HTTPError struct {
	URL     string
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("trello request to %s failed with code %d: %s", e.URL, e.Code, e.Message)
}

// Client creates Trello cards. It implements the flow Board interface.
type Client struct {
	apiKey  string
	token   string
	listID  string
	baseURL string
	cl      *http.Client
}

// NewClient creates a Trello client. Missing credentials fall back to the
// TRELLO_* environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("TRELLO_API_KEY")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("TRELLO_API_TOKEN")
	}
	if cfg.ListID == "" {
		cfg.ListID = os.Getenv("TRELLO_LIST_ID")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	slog.Debug("Trello client config loaded",
		"APIKey_set", cfg.APIKey != "", "Token_set", cfg.Token != "",
		"ListID", cfg.ListID, "BoardID", cfg.BoardID)

	if cfg.APIKey == "" || cfg.Token == "" {
		return nil, fmt.Errorf("trello API key and token must be provided")
	}
	if cfg.ListID == "" {
		return nil, fmt.Errorf("trello list id must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 5,
			},
		}
	}

	return &Client{
		apiKey:  cfg.APIKey,
		token:   cfg.Token,
		listID:  cfg.ListID,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cl:      cfg.HTTPClient,
	}, nil
}

// Submit creates a card at the top of the configured list.
func (c *Client) Submit(ctx context.Context, title, description string) (models.BoardReceipt, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("token", c.token)
	params.Set("idList", c.listID)
	params.Set("name", title)
	params.Set("desc", description)
	params.Set("pos", "top")

	endpoint := c.baseURL + "/1/cards"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return models.BoardReceipt{}, fmt.Errorf("failed to build trello request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cl.Do(req)
	if err != nil {
		return models.BoardReceipt{}, fmt.Errorf("trello request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.BoardReceipt{}, fmt.Errorf("failed to read trello response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		// The query string carries credentials, so only the endpoint is reported.
		return models.BoardReceipt{}, &HTTPError{URL: endpoint, Code: resp.StatusCode, Message: msg}
	}

	id := gjson.GetBytes(body, "id").String()
	slog.Debug("Trello.Submit: card created", "cardID", id, "title", title)
	return models.BoardReceipt{Accepted: true, ID: id}, nil
}
