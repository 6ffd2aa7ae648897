package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/cryptex/pkg/models"
)

var ErrNotFound = errors.New("not found")

// Client reads from a running cryptex API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Instruments(ctx context.Context) ([]models.Instrument, error) {
	var out []models.Instrument
	if err := c.getJSON(ctx, "/api/instruments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot fetches one instrument. An empty timeframe selects the server default.
func (c *Client) Snapshot(ctx context.Context, instrumentID, timeframe string) (*models.SnapshotView, error) {
	q := url.Values{"instrument": {instrumentID}}
	if timeframe != "" {
		q.Set("timeframe", timeframe)
	}
	var out models.SnapshotView
	if err := c.getJSON(ctx, "/api/snapshot", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Depth(ctx context.Context, instrumentID string, levels int) (*models.DepthView, error) {
	q := url.Values{"instrument": {instrumentID}}
	if levels > 0 {
		q.Set("levels", strconv.Itoa(levels))
	}
	var out models.DepthView
	if err := c.getJSON(ctx, "/api/depth", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
