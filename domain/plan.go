package domain

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

type PlanTier string

const (
	PlanFree     PlanTier = "free"
	PlanPro      PlanTier = "pro"
	PlanBusiness PlanTier = "business"
)

const bytesPerMB = 1024 * 1024

// PlanLimits parameterize attachment validation for one tier.
// They are read-only input and are never applied retroactively.
type PlanLimits struct {
	MaxSizeMB    int      `yaml:"maxSizeMB" json:"maxSizeMB"`
	DailyCount   int      `yaml:"dailyCount" json:"dailyCount"`
	MaxFiles     int      `yaml:"maxFiles" json:"maxFiles"`
	AllowedMimes []string `yaml:"allowedMimes" json:"allowedMimes"`
}

func (l PlanLimits) MaxSizeBytes() int64 {
	return int64(l.MaxSizeMB) * bytesPerMB
}

func (l PlanLimits) Allows(mimeType string) bool {
	return slices.Contains(l.AllowedMimes, mimeType)
}

var defaultMimes = []string{"image/jpeg", "image/png", "image/webp", "image/gif", "application/pdf"}

// PlanCatalog maps a tier to its limits.
type PlanCatalog map[PlanTier]PlanLimits

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		PlanFree:     {MaxSizeMB: 5, DailyCount: 10, MaxFiles: 3, AllowedMimes: slices.Clone(defaultMimes)},
		PlanPro:      {MaxSizeMB: 10, DailyCount: 50, MaxFiles: 5, AllowedMimes: slices.Clone(defaultMimes)},
		PlanBusiness: {MaxSizeMB: 25, DailyCount: 200, MaxFiles: 10, AllowedMimes: slices.Clone(defaultMimes)},
	}
}

// LimitsFor falls back to the free tier for unknown or empty tiers.
func (c PlanCatalog) LimitsFor(tier PlanTier) PlanLimits {
	if limits, ok := c[tier]; ok {
		return limits
	}
	return c[PlanFree]
}

// LoadPlanCatalog reads tier overrides from a YAML file on top of the defaults.
//
//	free:
//	  maxSizeMB: 5
//	  dailyCount: 10
//	  maxFiles: 3
//	  allowedMimes: [image/jpeg, image/png, application/pdf]
func LoadPlanCatalog(path string) (PlanCatalog, error) {
	catalog := DefaultPlanCatalog()
	if path == "" {
		return catalog, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan limits: %w", err)
	}
	var overrides map[PlanTier]PlanLimits
	if err = yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parsing plan limits: %w", err)
	}
	for tier, limits := range overrides {
		if limits.MaxSizeMB <= 0 || limits.DailyCount <= 0 || limits.MaxFiles <= 0 {
			return nil, fmt.Errorf("plan %q: limits must be positive", tier)
		}
		catalog[tier] = limits
	}
	return catalog, nil
}
