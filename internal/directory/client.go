package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ride-realtime/internal/models"
)

// Client fetches public party profiles from the REST user/captain store.
// The coordinator uses it best-effort to enrich acceptance payloads.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 2 * time.Second}}
}

// DriverProfile fetches a driver's public profile by id.
func (c *Client) DriverProfile(ctx context.Context, driverID string) (*models.DriverProfile, error) {
	u := fmt.Sprintf("%s/api/v1/captains/%s", c.BaseURL, url.PathEscape(driverID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory: status %d for driver %s", resp.StatusCode, driverID)
	}
	var p models.DriverProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
