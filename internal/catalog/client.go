// Package catalog talks to the hosted property catalog. It is the remote
// side of the app: everything here is fetched on demand through the query
// cache, never stored durably.
package catalog

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

	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Property is one catalog listing.
type Property struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Price   float64 `json:"price"`
	Rating  float64 `json:"rating"`
	Type    string  `json:"type"`
	Image   string  `json:"image"`
}

// User is the authenticated catalog account.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

// SearchParams selects a slice of the catalog. The zero value means "no
// constraint" for every field. Filter "All" is treated as unset, matching
// the catalog's category tabs.
type SearchParams struct {
	Filter    string  `json:"filter"`
	Query     string  `json:"query"`
	PriceMin  float64 `json:"priceMin"`
	PriceMax  float64 `json:"priceMax"`
	MinRating float64 `json:"minRating"`
	Limit     int     `json:"limit"`
}

// Client is an HTTP client for one catalog backend.
type Client struct {
	baseURL string
	project string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a catalog client. Credentials come from the profile config.
func New(endpoint, project, apiKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		project: project,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// CurrentUser returns the account the configured credentials belong to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/v1/account", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// LatestProperties returns the most recently listed properties, newest
// first. A non-positive limit defaults to 5.
func (c *Client) LatestProperties(ctx context.Context, limit int) ([]Property, error) {
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	var props []Property
	if err := c.get(ctx, "/v1/properties/latest", q, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// SearchProperties returns listings matching params, newest first.
func (c *Client) SearchProperties(ctx context.Context, params SearchParams) ([]Property, error) {
	q := url.Values{}
	if params.Filter != "" && params.Filter != "All" {
		q.Set("type", params.Filter)
	}
	if params.Query != "" {
		q.Set("q", params.Query)
	}
	if params.PriceMin > 0 {
		q.Set("priceMin", formatNumber(params.PriceMin))
	}
	if params.PriceMax > 0 {
		q.Set("priceMax", formatNumber(params.PriceMax))
	}
	if params.MinRating > 0 {
		q.Set("minRating", formatNumber(params.MinRating))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	var props []Property
	if err := c.get(ctx, "/v1/properties", q, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// PropertiesByIDs resolves listings by ID. An empty input short-circuits to
// an empty result without a network round trip.
func (c *Client) PropertiesByIDs(ctx context.Context, ids []string) ([]Property, error) {
	if len(ids) == 0 {
		return []Property{}, nil
	}
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	var props []Property
	if err := c.get(ctx, "/v1/properties/batch", q, &props); err != nil {
		return nil, err
	}
	return props, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Catalog-Project", c.project)
	if c.apiKey != "" {
		req.Header.Set("X-Catalog-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("catalog request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("catalog %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response %s: %w", path, err)
	}
	return nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
