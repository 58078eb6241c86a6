package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
)

// Client calls the pre-flight API of a settlement server
type Client struct {
	host   string
	client *http.Client
}

// NewClient creates a new API client for host (e.g. http://localhost:8080)
func NewClient(host string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	client := rc.StandardClient()
	client.Timeout = 30 * time.Second

	return &Client{host: host, client: client}
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	url := fmt.Sprintf("%s%s", c.host, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// decodeJSONResponse reads the response body, checks HTTP status, and decodes JSON
func (c *Client) decodeJSONResponse(resp *http.Response, result interface{}) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		bodyStr := string(bodyBytes)
		if bodyStr == "" {
			bodyStr = resp.Status
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bodyStr)
	}

	if err := json.Unmarshal(bodyBytes, result); err != nil {
		bodyStr := string(bodyBytes)
		if len(bodyStr) > 200 {
			bodyStr = bodyStr[:200] + "..."
		}
		return fmt.Errorf("failed to decode JSON response: %w (body: %s)", err, bodyStr)
	}

	return nil
}

// GetDomain fetches the EIP712 domain orders are signed under
func (c *Client) GetDomain(ctx context.Context) (*DomainResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/domain", nil)
	if err != nil {
		return nil, err
	}

	var result DomainResponse
	if err := c.decodeJSONResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HashOrder fetches the struct hash, signing digest and typed data of order
func (c *Client) HashOrder(ctx context.Context, order *chain.Order) (*HashResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/orders/hash", HashRequest{Order: order})
	if err != nil {
		return nil, err
	}

	var result HashResponse
	if err := c.decodeJSONResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateOrder asks the server whether signed would settle now. An empty
// buyer skips the affordability check.
func (c *Client) ValidateOrder(ctx context.Context, signed *chain.SignedOrder, buyer string) (*ValidateResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/orders/validate", ValidateRequest{
		Order:     signed.Order,
		Signature: signed.Signature,
		Buyer:     buyer,
	})
	if err != nil {
		return nil, err
	}

	var result ValidateResponse
	if err := c.decodeJSONResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
