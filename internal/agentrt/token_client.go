package agentrt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPTokenClient implements TokenIssuer by calling the relay's (external,
// out-of-scope per spec.md §1) REST endpoint that mints a tunnel token for
// an already-approved agent. It is the only network call this package
// makes outside the control tunnel itself.
type HTTPTokenClient struct {
	PublicHost             string
	TrustInvalidServerCert bool
	Timeout                time.Duration

	client *http.Client
}

type tunnelTokenResponse struct {
	Token string `json:"token"`
}

// IssueTunnelToken implements TokenIssuer.
func (c *HTTPTokenClient) IssueTunnelToken(ctx context.Context, agentID, apiKey string) (string, error) {
	httpClient := c.httpClient()

	url := fmt.Sprintf("https://%s/api/v1/agents/%s/tunnel-token", c.PublicHost, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("building tunnel-token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting tunnel token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tunnel-token request failed: %s", resp.Status)
	}

	var body tunnelTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding tunnel-token response: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("tunnel-token response missing token")
	}
	return body.Token, nil
}

func (c *HTTPTokenClient) httpClient() *http.Client {
	if c.client != nil {
		return c.client
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: c.TrustInvalidServerCert},
		},
	}
	return c.client
}
