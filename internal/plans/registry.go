package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	PlanTrial  = "trial"
	PlanComped = "comped"
)

// Plan describes a subscription tier and the credits it grants per billing period.
type Plan struct {
	ID             string            `json:"plan_id"`
	Name           string            `json:"name"`
	MonthlyCredits int64             `json:"monthly_credits"`
	StripePriceIDs []string          `json:"stripe_price_ids"`
	Features       map[string]string `json:"features"`
}

type PlansFile struct {
	Plans []Plan `json:"plans"`
}

// Registry is the in-memory plan catalog, keyed by plan id and provider price id.
type Registry struct {
	mu      sync.RWMutex
	plans   map[string]*Plan
	byPrice map[string]*Plan
}

func NewRegistry() *Registry {
	return &Registry{
		plans:   make(map[string]*Plan),
		byPrice: make(map[string]*Plan),
	}
}

func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var file PlansFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans config: %w", err)
	}

	registry := NewRegistry()
	for i := range file.Plans {
		if err := registry.Register(&file.Plans[i]); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) Register(p *Plan) error {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return fmt.Errorf("plan id is required")
	}
	if p.MonthlyCredits < 0 {
		return fmt.Errorf("plan %q: monthly_credits must not be negative", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[id] = p
	for _, priceID := range p.StripePriceIDs {
		if priceID = strings.TrimSpace(priceID); priceID != "" {
			r.byPrice[priceID] = p
		}
	}
	return nil
}

func (r *Registry) Get(planID string) *Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plans[planID]
}

func (r *Registry) ByPriceID(priceID string) *Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPrice[priceID]
}

// Resolve finds a plan by provider price id first, then by plan id.
func (r *Registry) Resolve(priceID, planID string) *Plan {
	if p := r.ByPriceID(priceID); p != nil {
		return p
	}
	if planID == "" {
		return nil
	}
	return r.Get(planID)
}

func (r *Registry) DefaultFeatures(planID string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[planID]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(p.Features))
	for k, v := range p.Features {
		out[k] = v
	}
	return out
}

func (r *Registry) All() []*Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Plan, 0, len(r.plans))
	for _, p := range r.plans {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
