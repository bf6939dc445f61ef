// Package oracle supplies the conversion rate between the stable unit of
// account and the settlement currency's atomic unit.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/logger"
)

const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultStaleTTL     = 15 * time.Minute
	DefaultFetchTimeout = 5 * time.Second
)

// Rate is one priced observation. Degraded marks a value served from a
// stale cache after both sources failed.
type Rate struct {
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Degraded  bool      `json:"degraded"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RateOracle is the consumer-facing interface; the lifecycle manager takes
// an injected instance so tests can run in parallel without shared cache
// state.
type RateOracle interface {
	GetRate(ctx context.Context) (Rate, error)
}

// Config bounds the oracle's sources and plausible price range. A fetched
// price outside [MinRate, MaxRate] is treated as a fetch failure.
type Config struct {
	PrimaryURL   string
	SecondaryURL string
	MinRate      float64
	MaxRate      float64
	CacheTTL     time.Duration
	StaleTTL     time.Duration
}

// Service implements RateOracle with a tiered fallback: fresh cache,
// primary source, secondary source, stale cache.
type Service struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	fixed *float64 // deterministic override, bypasses all fetching

	mu     sync.Mutex
	cached *Rate
}

type Option func(*Service)

// WithFixedRate puts the oracle in deterministic override mode: every
// GetRate call returns the given price and no network call is ever made.
func WithFixedRate(price float64) Option {
	return func(s *Service) { s.fixed = &price }
}

// WithHTTPClient overrides the default 5s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

func NewService(cfg Config, opts ...Option) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.StaleTTL <= 0 {
		cfg.StaleTTL = DefaultStaleTTL
	}
	s := &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: DefaultFetchTimeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetRate returns the current conversion rate. Resolution order: fixed
// override, cache younger than CacheTTL, primary source, secondary source,
// cache younger than StaleTTL (flagged degraded). Total failure returns a
// DependencyError.
func (s *Service) GetRate(ctx context.Context) (Rate, error) {
	if s.fixed != nil {
		return Rate{Price: *s.fixed, Source: "fixed", FetchedAt: s.now()}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != nil && now.Sub(s.cached.FetchedAt) < s.cfg.CacheTTL {
		return *s.cached, nil
	}

	if rate, err := s.fetch(ctx, s.cfg.PrimaryURL, "primary"); err == nil {
		s.cached = &rate
		return rate, nil
	} else {
		logger.Warn("Primary rate source failed", "url", s.cfg.PrimaryURL, "error", err)
	}

	if rate, err := s.fetch(ctx, s.cfg.SecondaryURL, "secondary"); err == nil {
		s.cached = &rate
		return rate, nil
	} else {
		logger.Warn("Secondary rate source failed", "url", s.cfg.SecondaryURL, "error", err)
	}

	if s.cached != nil && now.Sub(s.cached.FetchedAt) < s.cfg.StaleTTL {
		stale := *s.cached
		stale.Degraded = true
		logger.Warn("Serving stale rate after source failures", "age", now.Sub(s.cached.FetchedAt).String())
		return stale, nil
	}

	return Rate{}, domain.Dependency("rate-oracle", fmt.Errorf("all sources failed and no usable cached rate"))
}

func (s *Service) fetch(ctx context.Context, url, source string) (Rate, error) {
	if url == "" {
		return Rate{}, fmt.Errorf("no %s source configured", source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Rate{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Rate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rate{}, fmt.Errorf("%s source returned status %d", source, resp.StatusCode)
	}

	var body struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Rate{}, fmt.Errorf("decode %s response: %w", source, err)
	}

	if err := s.sanityCheck(body.Price); err != nil {
		return Rate{}, err
	}

	return Rate{Price: body.Price, Source: source, FetchedAt: s.now()}, nil
}

func (s *Service) sanityCheck(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("implausible price %v", price)
	}
	if s.cfg.MinRate > 0 && price < s.cfg.MinRate {
		return fmt.Errorf("price %v below plausible minimum %v", price, s.cfg.MinRate)
	}
	if s.cfg.MaxRate > 0 && price > s.cfg.MaxRate {
		return fmt.Errorf("price %v above plausible maximum %v", price, s.cfg.MaxRate)
	}
	return nil
}
