// Package tier holds the static tier table: duration ceilings, output
// branding and the mapping from billing price identifiers to tiers.
package tier

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Known tier names.
const (
	Free       = "free"
	Basic      = "basic"
	Standard   = "standard"
	Premium    = "premium"
	Enterprise = "enterprise"
)

// Entry defines what a tier permits.
type Entry struct {
	Name        string        `json:"name"`
	MaxDuration time.Duration `json:"max_duration"`
	Unlimited   bool          `json:"unlimited"`
	Watermark   bool          `json:"watermark"` // restricted-tier footer on artifacts
}

// MaxDurationSeconds returns the ceiling in seconds, or 0 when unlimited.
func (e Entry) MaxDurationSeconds() float64 {
	if e.Unlimited {
		return 0
	}
	return e.MaxDuration.Seconds()
}

// Allows reports whether audio of the given length fits the tier. The
// ceiling is inclusive.
func (e Entry) Allows(seconds float64) bool {
	if e.Unlimited {
		return true
	}
	return seconds <= e.MaxDuration.Seconds()
}

// DefaultEntries is the canonical tier table.
func DefaultEntries() []Entry {
	return []Entry{
		{Name: Free, MaxDuration: 30 * time.Second, Watermark: true},
		{Name: Basic, MaxDuration: 30 * time.Minute, Watermark: true},
		{Name: Standard, MaxDuration: 90 * time.Minute},
		{Name: Premium, MaxDuration: 3 * time.Hour},
		{Name: Enterprise, Unlimited: true},
	}
}

// Policy is the immutable tier table. Build it once at startup with
// NewPolicy and share the pointer.
type Policy struct {
	entries map[string]Entry
	prices  map[string]string // billing price id -> tier name
}

// NewPolicy validates entries and price mappings. A "free" entry is
// mandatory because it is the fallback for every unknown tier.
func NewPolicy(entries []Entry, prices map[string]string) (*Policy, error) {
	p := &Policy{
		entries: make(map[string]Entry, len(entries)),
		prices:  make(map[string]string, len(prices)),
	}
	for _, e := range entries {
		e.Name = Normalize(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("tier entry with empty name")
		}
		if _, dup := p.entries[e.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", e.Name)
		}
		if !e.Unlimited && e.MaxDuration <= 0 {
			return nil, fmt.Errorf("tier %q: max_duration must be positive unless unlimited", e.Name)
		}
		p.entries[e.Name] = e
	}
	free, ok := p.entries[Free]
	if !ok {
		return nil, fmt.Errorf("tier table must define %q", Free)
	}
	if free.Unlimited {
		return nil, fmt.Errorf("tier %q cannot be unlimited", Free)
	}
	for price, name := range prices {
		name = Normalize(name)
		if _, ok := p.entries[name]; !ok {
			return nil, fmt.Errorf("price %q maps to unknown tier %q", price, name)
		}
		p.prices[strings.TrimSpace(price)] = name
	}
	return p, nil
}

// MustDefault returns the policy built from DefaultEntries with the given
// price mappings. It panics on invalid mappings; intended for tests and CLI
// paths with hardcoded input.
func MustDefault(prices map[string]string) *Policy {
	p, err := NewPolicy(DefaultEntries(), prices)
	if err != nil {
		panic(err)
	}
	return p
}

// Normalize lower-cases and trims a tier name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Known reports whether name is a tier in the table.
func (p *Policy) Known(name string) bool {
	_, ok := p.entries[Normalize(name)]
	return ok
}

// LimitFor returns the entry for a tier. Unknown or empty names get the
// free entry; this never fails open.
func (p *Policy) LimitFor(name string) Entry {
	if e, ok := p.entries[Normalize(name)]; ok {
		return e
	}
	return p.entries[Free]
}

// Resolve returns the effective tier name for a possibly unknown input.
func (p *Policy) Resolve(name string) string {
	return p.LimitFor(name).Name
}

// TierForPrice maps a billing price identifier to a tier name.
func (p *Policy) TierForPrice(price string) (string, bool) {
	name, ok := p.prices[strings.TrimSpace(price)]
	return name, ok
}

// Entries returns the table sorted by ceiling, unlimited tiers last.
func (p *Policy) Entries() []Entry {
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unlimited != out[j].Unlimited {
			return !out[i].Unlimited
		}
		if out[i].MaxDuration != out[j].MaxDuration {
			return out[i].MaxDuration < out[j].MaxDuration
		}
		return out[i].Name < out[j].Name
	})
	return out
}
