package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// QuotaClass names a rate-limit policy applied per principal.
type QuotaClass string

const (
	ChatMessage        QuotaClass = "chat-message"
	ActionExecute      QuotaClass = "action-execute"
	ProfileGeneration  QuotaClass = "profile-generation"
	HistoryClear       QuotaClass = "history-clear"
	RecommendationRead QuotaClass = "recommendation-read"
)

// Quota specifies the token bucket parameters of a class. RefillTokens are added
// evenly over RefillPeriod.
type Quota struct {
	Capacity     int64         `yaml:"capacity" json:"capacity"`
	RefillTokens int64         `yaml:"refill_tokens" json:"refill_tokens"`
	RefillPeriod time.Duration `yaml:"refill_period" json:"refill_period"`
	// IdleTTL defaults to the time an empty bucket takes to refill completely.
	IdleTTL time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
}

// RefillRate returns tokens per second.
func (q Quota) RefillRate() float64 {
	return float64(q.RefillTokens) / q.RefillPeriod.Seconds()
}

// FullRefill is the time an empty bucket needs to become full again.
func (q Quota) FullRefill() time.Duration {
	return q.RefillPeriod * time.Duration(q.Capacity) / time.Duration(q.RefillTokens)
}

func (q Quota) validate() error {
	if q.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", q.Capacity)
	}
	if q.RefillTokens <= 0 || q.RefillPeriod <= 0 {
		return fmt.Errorf("refill must be positive, got %d per %s", q.RefillTokens, q.RefillPeriod)
	}
	if q.IdleTTL < 0 {
		return fmt.Errorf("idle_ttl must not be negative, got %s", q.IdleTTL)
	}
	return nil
}

// QuotaTable maps classes to their static quotas. It is immutable once loaded.
type QuotaTable struct {
	quotas map[QuotaClass]Quota
}

// Get returns the quota for class.
func (t *QuotaTable) Get(class QuotaClass) (Quota, bool) {
	q, ok := t.quotas[class]
	return q, ok
}

// Classes returns the configured classes in sorted order.
func (t *QuotaTable) Classes() []QuotaClass {
	out := make([]QuotaClass, 0, len(t.quotas))
	for c := range t.quotas {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultQuotas are used for any class not overridden by a quota file. Only the
// profile-generation numbers (5 per rolling hour) come from observed behaviour; the
// others are conservative per-minute budgets.
func DefaultQuotas() map[QuotaClass]Quota {
	return map[QuotaClass]Quota{
		ProfileGeneration:  {Capacity: 5, RefillTokens: 5, RefillPeriod: time.Hour},
		ChatMessage:        {Capacity: 20, RefillTokens: 20, RefillPeriod: time.Minute},
		ActionExecute:      {Capacity: 10, RefillTokens: 10, RefillPeriod: time.Minute},
		HistoryClear:       {Capacity: 5, RefillTokens: 5, RefillPeriod: time.Minute},
		RecommendationRead: {Capacity: 30, RefillTokens: 30, RefillPeriod: time.Minute},
	}
}

// NewQuotaTable validates quotas and fills in default idle TTLs.
func NewQuotaTable(quotas map[QuotaClass]Quota) (*QuotaTable, error) {
	t := &QuotaTable{quotas: make(map[QuotaClass]Quota, len(quotas))}
	for class, q := range quotas {
		if class == "" {
			return nil, fmt.Errorf("quota class name must not be empty")
		}
		if err := q.validate(); err != nil {
			return nil, fmt.Errorf("quota %s: %w", class, err)
		}
		if q.IdleTTL == 0 {
			q.IdleTTL = q.FullRefill()
		}
		t.quotas[class] = q
	}
	return t, nil
}

type quotaFile struct {
	Quotas map[QuotaClass]Quota `yaml:"quotas"`
}

// LoadQuotaTable merges the quota file at path (if any) over DefaultQuotas.
func LoadQuotaTable(path string) (*QuotaTable, error) {
	quotas := DefaultQuotas()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read quota file: %w", err)
		}
		var f quotaFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse quota file %s: %w", path, err)
		}
		for class, q := range f.Quotas {
			quotas[class] = q
		}
	}
	return NewQuotaTable(quotas)
}
