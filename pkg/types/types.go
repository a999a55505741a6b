package types

import (
	"fmt"
	"time"
)

// Unavailable is the gauge value written when no reading could be taken.
const Unavailable = -1.0

// Target is a monitored host
type Target struct {
	ID        int64      `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Hostname  string     `json:"hostname" db:"hostname"`
	Address   string     `json:"address" db:"address"`
	Port      int        `json:"port" db:"port"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	IsDeleted bool       `json:"is_deleted" db:"is_deleted"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Key returns the target id; it satisfies pagination.Keyed.
func (t Target) Key() int64 { return t.ID }

// Endpoint returns address:port for probing and scraping.
func (t Target) Endpoint() string {
	return fmt.Sprintf("%s:%d", t.Address, t.Port)
}

// Status is the qualitative health derived from a sample
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Sample is one immutable reading of a target's health
type Sample struct {
	ID              int64     `json:"id" db:"id"`
	TargetID        int64     `json:"target_id" db:"target_id"`
	CPUUsage        float64   `json:"cpu_usage" db:"cpu_usage"`
	MemoryUsage     float64   `json:"memory_usage" db:"memory_usage"`
	DiskUsage       float64   `json:"disk_usage" db:"disk_usage"`
	NetworkInbound  float64   `json:"network_inbound" db:"network_inbound"`
	NetworkOutbound float64   `json:"network_outbound" db:"network_outbound"`
	ResponseTimeMs  float64   `json:"response_time_ms" db:"response_time_ms"`
	Status          Status    `json:"status" db:"status"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
}

func (s Sample) Key() int64 { return s.ID }

// Degraded reports whether the sample carries the unavailable sentinel.
func (s Sample) Degraded() bool {
	return s.CPUUsage == Unavailable && s.MemoryUsage == Unavailable && s.DiskUsage == Unavailable
}

// NewDegradedSample builds the sample recorded when collection is exhausted.
func NewDegradedSample(targetID int64, at time.Time) Sample {
	return Sample{
		TargetID:        targetID,
		CPUUsage:        Unavailable,
		MemoryUsage:     Unavailable,
		DiskUsage:       Unavailable,
		NetworkInbound:  Unavailable,
		NetworkOutbound: Unavailable,
		ResponseTimeMs:  Unavailable,
		Status:          StatusCritical,
		Timestamp:       at,
	}
}

// AlertKind identifies the condition an alert describes
type AlertKind int

const (
	AlertKindCPUUsage    AlertKind = 1
	AlertKindMemoryUsage AlertKind = 2
	AlertKindDiskUsage   AlertKind = 3
	AlertKindDiskSpace   AlertKind = 4
	AlertKindServerDown  AlertKind = 5
	AlertKindServiceDown AlertKind = 6
	AlertKindCustom      AlertKind = 99
)

func (k AlertKind) String() string {
	switch k {
	case AlertKindCPUUsage:
		return "CpuUsage"
	case AlertKindMemoryUsage:
		return "MemoryUsage"
	case AlertKindDiskUsage:
		return "DiskUsage"
	case AlertKindDiskSpace:
		return "DiskSpace"
	case AlertKindServerDown:
		return "ServerDown"
	case AlertKindServiceDown:
		return "ServiceDown"
	case AlertKindCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// ParseAlertKind maps a kind name back to its value.
func ParseAlertKind(s string) (AlertKind, error) {
	for _, k := range []AlertKind{
		AlertKindCPUUsage, AlertKindMemoryUsage, AlertKindDiskUsage, AlertKindDiskSpace,
		AlertKindServerDown, AlertKindServiceDown, AlertKindCustom,
	} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown alert kind %q", s)
}

// Severity is ordered: Info < Warning < Error < Critical
type Severity int

const (
	SeverityInfo     Severity = 1
	SeverityWarning  Severity = 2
	SeverityError    Severity = 3
	SeverityCritical Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ParseSeverity maps a severity name back to its value.
func ParseSeverity(s string) (Severity, error) {
	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical} {
		if sev.String() == s {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// Alert records a threshold breach on a target
type Alert struct {
	ID             int64      `json:"id" db:"id"`
	TargetID       int64      `json:"target_id" db:"target_id"`
	Kind           AlertKind  `json:"kind" db:"kind"`
	Severity       Severity   `json:"severity" db:"severity"`
	Title          string     `json:"title" db:"title"`
	Message        string     `json:"message" db:"message"`
	ThresholdValue float64    `json:"threshold_value" db:"threshold_value"`
	ActualValue    float64    `json:"actual_value" db:"actual_value"`
	IsAcknowledged bool       `json:"is_acknowledged" db:"is_acknowledged"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	IsResolved     bool       `json:"is_resolved" db:"is_resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

func (a Alert) Key() int64 { return a.ID }
