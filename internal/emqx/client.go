package emqx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
)

const (
	clientsPath    = "/api/v5/clients"
	pageLimit      = 100
	requestTimeout = 10 * time.Second

	// maxPages stops a misbehaving server from looping forever.
	maxPages = 1000

	// maxErrorBody caps how much of an error response is quoted.
	maxErrorBody = 512
)

// ConnectedClient is one entry of the broker's client list.
type ConnectedClient struct {
	ClientID  string `json:"clientid"`
	Username  string `json:"username"`
	IPAddress string `json:"ip_address"`
	Connected bool   `json:"connected"`
}

type clientsPage struct {
	Data []ConnectedClient `json:"data"`
	Meta struct {
		Page    int   `json:"page"`
		Limit   int   `json:"limit"`
		Count   int   `json:"count"`
		HasNext *bool `json:"hasnext"`
	} `json:"meta"`
}

// Client talks to the EMQX management REST API.
type Client struct {
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
}

// NewClient creates a management API client from the emqx.api section.
// httpClient may be nil.
func NewClient(cfg config.EMQXAPIConfig, httpClient *http.Client) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %w", ErrInvalidConfig, cfg.URL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		key:        cfg.Key,
		secret:     cfg.Secret,
		httpClient: httpClient,
	}, nil
}

// ConnectedClients returns every client the broker currently reports as
// connected, following pagination.
func (c *Client) ConnectedClients(ctx context.Context) ([]ConnectedClient, error) {
	var all []ConnectedClient
	for page := 1; page <= maxPages; page++ {
		p, err := c.clientsPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, cl := range p.Data {
			if cl.Connected {
				all = append(all, cl)
			}
		}
		if !hasNext(p, page) {
			return all, nil
		}
	}
	return nil, fmt.Errorf("%w: more than %d pages", ErrRequestFailed, maxPages)
}

// ConnectedClientIDs returns the IDs of the connected clients.
func (c *Client) ConnectedClientIDs(ctx context.Context) ([]string, error) {
	clients, err := c.ConnectedClients(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(clients))
	for i, cl := range clients {
		ids[i] = cl.ClientID
	}
	return ids, nil
}

func (c *Client) clientsPage(ctx context.Context, page int) (*clientsPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(pageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+clientsPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best effort
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p clientsPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decoding clients: %w", ErrRequestFailed, err)
	}
	return &p, nil
}

// hasNext prefers the server's hasnext flag and falls back to the count.
func hasNext(p *clientsPage, page int) bool {
	if len(p.Data) == 0 {
		return false
	}
	if p.Meta.HasNext != nil {
		return *p.Meta.HasNext
	}
	limit := p.Meta.Limit
	if limit <= 0 {
		limit = pageLimit
	}
	return page*limit < p.Meta.Count
}
