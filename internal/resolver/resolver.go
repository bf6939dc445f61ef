// Package resolver looks up ownership metadata for rentable agents.
package resolver

import (
	"context"

	"agentlease-backend/internal/domain"
)

// AgentInfo is the registry record for one agent.
type AgentInfo struct {
	Owner      string `json:"owner"`
	Creator    string `json:"creator"`
	AuditTopic string `json:"audit_topic"`
}

// Resolver maps an agent id to its ownership record.
type Resolver interface {
	Resolve(ctx context.Context, agentID string) (AgentInfo, error)
}

// Static resolves from a fixed map. Used by tests and dev mode.
type Static map[string]AgentInfo

func (s Static) Resolve(_ context.Context, agentID string) (AgentInfo, error) {
	info, ok := s[agentID]
	if !ok {
		return AgentInfo{}, domain.Validationf("unknown agent %s", agentID)
	}
	return info, nil
}
