package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"login-security/internal/config"
)

// CredentialClient validates identifier/password pairs against the account
// backend. This engine never sees password hashes; the backend answers with
// the user id on success.
type CredentialClient struct {
	httpClient *http.Client
	baseURL    string
}

type credentialRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type credentialResponse struct {
	UserID string `json:"user_id"`
}

func NewCredentialClient(cfg *config.Config) *CredentialClient {
	return &CredentialClient{
		httpClient: &http.Client{
			Timeout: cfg.Location.Timeout,
		},
		baseURL: cfg.Server.AccountBackendURL,
	}
}

// Validate returns the user id for a correct identifier/password pair, an
// empty string for a rejected pair, and an error only for infrastructure
// failures.
func (c *CredentialClient) Validate(ctx context.Context, identifier, password string) (string, error) {
	payload, err := json.Marshal(credentialRequest{Identifier: identifier, Password: password})
	if err != nil {
		return "", fmt.Errorf("failed to encode credential request: %w", err)
	}

	endpoint := c.baseURL + "/v1/credentials/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build credential request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential validation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body credentialResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("failed to decode credential response: %w", err)
		}
		return body.UserID, nil
	case http.StatusUnauthorized, http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("credential backend returned status %d", resp.StatusCode)
	}
}
