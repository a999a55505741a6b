// Package alerting turns the latest sample of each target into threshold
// alerts, at most one unresolved alert per target and kind.
package alerting

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

// Metric names a sample gauge a rule reads
type Metric string

const (
	MetricCPU    Metric = "cpu"
	MetricMemory Metric = "memory"
	MetricDisk   Metric = "disk"
)

// Rule raises an alert of Kind when Metric exceeds Threshold. Values above
// CriticalThreshold escalate to Critical; otherwise Severity applies.
type Rule struct {
	Kind              types.AlertKind `yaml:"-"`
	KindName          string          `yaml:"kind"`
	Metric            Metric          `yaml:"metric"`
	Label             string          `yaml:"label"`
	Threshold         float64         `yaml:"threshold"`
	CriticalThreshold float64         `yaml:"critical_threshold"`
	Severity          types.Severity  `yaml:"-"`
	SeverityName      string          `yaml:"severity"`
}

// Thresholds is the ordered rule table
type Thresholds struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultThresholds returns the built-in table
func DefaultThresholds() *Thresholds {
	return &Thresholds{Rules: []Rule{
		{Kind: types.AlertKindCPUUsage, Metric: MetricCPU, Label: "CPU", Threshold: 80, CriticalThreshold: 90, Severity: types.SeverityWarning},
		{Kind: types.AlertKindMemoryUsage, Metric: MetricMemory, Label: "Memory", Threshold: 85, CriticalThreshold: 95, Severity: types.SeverityWarning},
		{Kind: types.AlertKindDiskUsage, Metric: MetricDisk, Label: "Disk", Threshold: 90, CriticalThreshold: 95, Severity: types.SeverityError},
	}}
}

// LoadThresholds reads a YAML rule table from path
func LoadThresholds(path string) (*Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds %s: %w", path, err)
	}
	return ParseThresholds(data)
}

// ParseThresholds decodes and validates a YAML rule table
func ParseThresholds(data []byte) (*Thresholds, error) {
	var t Thresholds
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.NewValidationError("invalid thresholds yaml").WithCause(err)
	}
	if err := t.resolve(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Thresholds) resolve() error {
	if len(t.Rules) == 0 {
		return errors.NewValidationError("thresholds must define at least one rule")
	}

	seen := make(map[types.AlertKind]bool, len(t.Rules))
	for i := range t.Rules {
		r := &t.Rules[i]

		kind, err := types.ParseAlertKind(r.KindName)
		if err != nil {
			return errors.NewValidationError(fmt.Sprintf("rule %d: %v", i, err))
		}
		if seen[kind] {
			return errors.NewValidationError(fmt.Sprintf("rule %d: duplicate kind %s", i, kind))
		}
		seen[kind] = true
		r.Kind = kind

		switch r.Metric {
		case MetricCPU, MetricMemory, MetricDisk:
		default:
			return errors.NewValidationError(fmt.Sprintf("rule %d: unknown metric %q", i, r.Metric))
		}

		sev := types.SeverityWarning
		if r.SeverityName != "" {
			if sev, err = types.ParseSeverity(r.SeverityName); err != nil {
				return errors.NewValidationError(fmt.Sprintf("rule %d: %v", i, err))
			}
		}
		r.Severity = sev

		if r.CriticalThreshold != 0 && r.CriticalThreshold < r.Threshold {
			return errors.NewValidationError(fmt.Sprintf("rule %d: critical threshold below threshold", i))
		}
		if r.Label == "" {
			r.Label = string(r.Metric)
		}
	}
	return nil
}

// Value reads the rule's metric from sample
func (r Rule) Value(sample types.Sample) float64 {
	switch r.Metric {
	case MetricCPU:
		return sample.CPUUsage
	case MetricMemory:
		return sample.MemoryUsage
	case MetricDisk:
		return sample.DiskUsage
	default:
		return 0
	}
}

// Check reports whether sample breaches the rule and at which severity.
// Both comparisons are strict.
func (r Rule) Check(sample types.Sample) (value float64, severity types.Severity, breached bool) {
	value = r.Value(sample)
	if value <= r.Threshold {
		return value, 0, false
	}
	if r.CriticalThreshold != 0 && value > r.CriticalThreshold {
		return value, types.SeverityCritical, true
	}
	return value, r.Severity, true
}

// Build creates the alert for a breach
func (r Rule) Build(target types.Target, value float64, severity types.Severity) *types.Alert {
	return &types.Alert{
		TargetID:       target.ID,
		Kind:           r.Kind,
		Severity:       severity,
		Title:          fmt.Sprintf("High %s Usage on %s", r.Label, target.Name),
		Message:        fmt.Sprintf("%s usage is at %.2f%%, exceeding threshold of %s%%", r.Label, value, strconv.FormatFloat(r.Threshold, 'f', -1, 64)),
		ThresholdValue: r.Threshold,
		ActualValue:    value,
	}
}
