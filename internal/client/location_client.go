package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"login-security/internal/config"
	"login-security/internal/models"
	"login-security/internal/util"
)

// LocationClient calls the external IP-geolocation/KYC provider over HTTP.
// Every call is bounded by the configured timeout; the engine treats a
// timeout like any other provider error.
type LocationClient struct {
	httpClient *http.Client
	config     *config.LocationConfig
}

type locationResponse struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	IsVPN   bool   `json:"is_vpn"`
}

func NewLocationClient(cfg *config.Config) *LocationClient {
	locationConfig := cfg.Location

	return &LocationClient{
		httpClient: &http.Client{
			Timeout: locationConfig.Timeout,
		},
		config: &locationConfig,
	}
}

// Lookup resolves the location of a client IP. When identityRef is non-empty
// the provider performs the identity-bound lookup against the verified
// identity record instead of the plain IP database.
func (c *LocationClient) Lookup(ctx context.Context, ip, identityRef string) (*models.LocationData, error) {
	endpoint := fmt.Sprintf("%s/v1/lookup/%s", c.config.ProviderURL, url.PathEscape(ip))
	if identityRef != "" {
		endpoint = fmt.Sprintf("%s/v1/identity/%s/lookup/%s",
			c.config.ProviderURL, url.PathEscape(identityRef), url.PathEscape(ip))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build location request: %w", err)
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("location provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Provider has no data for this IP; not an error
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("location provider returned status %d", resp.StatusCode)
	}

	var body locationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode location response: %w", err)
	}

	util.Debug("Location lookup completed",
		zap.String("ip", ip),
		zap.String("country", body.Country),
		zap.Bool("is_vpn", body.IsVPN),
	)

	return &models.LocationData{
		Country: body.Country,
		Region:  body.Region,
		City:    body.City,
		IsVPN:   body.IsVPN,
	}, nil
}
