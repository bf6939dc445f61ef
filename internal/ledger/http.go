package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/logger"
)

const defaultRequestTimeout = 5 * time.Second

// HTTPClient talks JSON over HTTP to a ledger gateway. Requests carry a
// bounded timeout so a hung ledger cannot stall a rental operation.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (c *HTTPClient) CreateAccount(ctx context.Context, controlKey string) (string, error) {
	var resp struct {
		AccountID string `json:"account_id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/accounts", map[string]any{
		"control_key": controlKey,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccountID == "" {
		return "", domain.Dependency("ledger", fmt.Errorf("create account returned empty account id"))
	}
	return resp.AccountID, nil
}

func (c *HTTPClient) Fund(ctx context.Context, from, to string, amount int64) error {
	return c.do(ctx, http.MethodPost, "/v1/transfers/fund", map[string]any{
		"from":   from,
		"to":     to,
		"amount": amount,
	}, nil)
}

func (c *HTTPClient) Transfer(ctx context.Context, from, secret string, outputs []Output) error {
	return c.do(ctx, http.MethodPost, "/v1/transfers", map[string]any{
		"from":    from,
		"secret":  secret,
		"outputs": outputs,
	}, nil)
}

func (c *HTTPClient) Balance(ctx context.Context, account string) (int64, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+account+"/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	logger.ExternalServiceCall("ledger", method+" "+path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.Dependency("ledger", fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return domain.Dependency("ledger", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	logger.ExternalServiceResult("ledger", method+" "+path, err)
	if err != nil {
		return domain.Dependency("ledger", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Dependency("ledger", fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.Dependency("ledger", fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
