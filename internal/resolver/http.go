package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/logger"
)

const defaultRequestTimeout = 5 * time.Second

// HTTPResolver queries an agent registry over HTTP.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, agentID string) (AgentInfo, error) {
	url := r.baseURL + "/v1/agents/" + agentID
	logger.ExternalServiceCall("agent-registry", "GET "+url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return AgentInfo{}, domain.Dependency("agent-registry", err)
	}
	resp, err := r.client.Do(req)
	logger.ExternalServiceResult("agent-registry", "GET "+url, err)
	if err != nil {
		return AgentInfo{}, domain.Dependency("agent-registry", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return AgentInfo{}, domain.Validationf("unknown agent %s", agentID)
	}
	if resp.StatusCode != http.StatusOK {
		return AgentInfo{}, domain.Dependency("agent-registry", fmt.Errorf("registry returned status %d", resp.StatusCode))
	}

	var info AgentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return AgentInfo{}, domain.Dependency("agent-registry", fmt.Errorf("decode registry response: %w", err))
	}
	if info.Owner == "" {
		return AgentInfo{}, domain.Dependency("agent-registry", fmt.Errorf("registry record for %s has no owner", agentID))
	}
	return info, nil
}
