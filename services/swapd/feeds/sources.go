package feeds

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
)

// Source is one upstream HTTP price endpoint. Assets maps canonical symbols
// onto the identifiers the endpoint understands.
type Source struct {
	Name     string
	Endpoint string
	APIKey   string
	Assets   map[string]string
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements the swap module's external price feed over a priority
// ordered list of HTTP sources.
type Client struct {
	client  HTTPDoer
	sources []Source
}

// NewClient constructs a feed client. When doer is nil a default client with
// a ten second timeout is used.
func NewClient(doer HTTPDoer, sources []Source) (*Client, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("feeds: at least one source required")
	}
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	cleaned := make([]Source, 0, len(sources))
	for _, src := range sources {
		if strings.TrimSpace(src.Endpoint) == "" {
			return nil, fmt.Errorf("feeds: source %q missing endpoint", src.Name)
		}
		mapped := make(map[string]string, len(src.Assets))
		for sym, id := range src.Assets {
			mapped[strings.ToUpper(strings.TrimSpace(sym))] = strings.TrimSpace(id)
		}
		src.Assets = mapped
		cleaned = append(cleaned, src)
	}
	return &Client{client: doer, sources: cleaned}, nil
}

// ReadPrice fetches the reading for symbol from the source at the given
// priority index.
func (c *Client) ReadPrice(ctx context.Context, symbol string, sourceIndex int) (uint64, time.Time, error) {
	if c == nil {
		return 0, time.Time{}, fmt.Errorf("feed client not configured")
	}
	if sourceIndex < 0 || sourceIndex >= len(c.sources) {
		return 0, time.Time{}, fmt.Errorf("feeds: source index %d out of range", sourceIndex)
	}
	src := c.sources[sourceIndex]
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	id := src.Assets[sym]
	if id == "" {
		id = strings.ToLower(sym)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Endpoint, nil)
	if err != nil {
		return 0, time.Time{}, err
	}
	values := url.Values{}
	values.Set("symbol", id)
	req.URL.RawQuery = values.Encode()
	if src.APIKey != "" {
		req.Header.Set("x-api-key", src.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, time.Time{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, time.Time{}, fmt.Errorf("feeds: %s status %d: %s", src.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     json.Number `json:"price"`
		Timestamp int64       `json:"timestamp"`
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return 0, time.Time{}, fmt.Errorf("feeds: %s decode: %w", src.Name, err)
	}
	price, err := strconv.ParseUint(payload.Price.String(), 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("feeds: %s invalid price %q", src.Name, payload.Price)
	}
	observed := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp <= 0 {
		observed = time.Now().UTC()
	}
	return price, observed, nil
}

// Len reports the number of configured sources.
func (c *Client) Len() int {
	if c == nil {
		return 0
	}
	return len(c.sources)
}
