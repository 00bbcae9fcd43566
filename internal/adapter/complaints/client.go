package complaints

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/citizenlink/heatmap-service/internal/domain"
	"github.com/citizenlink/heatmap-service/internal/observability"
)

const locationsPath = "/api/complaints/locations"

// Client reads complaint locations and the department taxonomy from the
// CitizenLink API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a client for the API at baseURL. token may be empty.
func NewClient(baseURL, token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// FetchPoints returns the geotagged complaints matching q. Rows with missing
// or non-numeric coordinates are skipped with a warning.
func (c *Client) FetchPoints(ctx context.Context, q domain.Query) ([]domain.ComplaintPoint, error) {
	var records []domain.ComplaintRecord
	if err := c.get(ctx, locationsPath, q.Values(), &records); err != nil {
		return nil, err
	}

	points, skipped := domain.ParseComplaintRecords(records, c.logger)
	if skipped > 0 {
		c.metrics.MalformedPoints.Add(float64(skipped))
	}
	c.logger.Debug("fetched complaint locations", "rows", len(records), "points", len(points), "skipped", skipped)
	return points, nil
}

// get issues a GET and decodes the envelope's data field into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("complaints API error: GET %s: status %d: %s", path, resp.StatusCode, body)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request unsuccessful"
		}
		return fmt.Errorf("complaints API error: GET %s: %s", path, msg)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// API response envelope.

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   int             `json:"count,omitempty"`
	Error   string          `json:"error,omitempty"`
}
