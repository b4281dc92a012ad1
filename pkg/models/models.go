// Package models holds the shared data model for the detection core:
// the per-request record, the persisted attack event, and the derived
// behavioral aggregates.
package models

import "time"

// AttackType is the fixed classification enumeration.
type AttackType string

const (
	AttackNormal     AttackType = "normal"
	AttackSQLi       AttackType = "sql_injection"
	AttackXSS        AttackType = "xss"
	AttackTraversal  AttackType = "directory_traversal"
	AttackTool       AttackType = "automated_tool"
	AttackBruteForce AttackType = "brute_force"
	AttackDoS        AttackType = "dos"
	AttackException  AttackType = "exception"
)

// Severity is ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank maps severities onto their ordering.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Less reports whether s is strictly less severe than other.
func (s Severity) Less(other Severity) bool {
	return severityRank[s] < severityRank[other]
}

// RequestRecord is the ephemeral per-request metadata handed to the core.
// It is owned by the ingestion orchestrator for the duration of one call.
type RequestRecord struct {
	SourceIP       string            `json:"source_ip"`
	UserAgent      string            `json:"user_agent"`
	Method         string            `json:"method"`
	Endpoint       string            `json:"endpoint"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	QueryParams    map[string]string `json:"query_params"`
	Body           string            `json:"body,omitempty"`
	StatusCode     int               `json:"status_code"`
	ResponseTimeMs float64           `json:"response_time_ms"`
	HoneypotType   string            `json:"honeypot_type"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Classification is the rule engine's verdict for one request.
type Classification struct {
	AttackType AttackType `json:"attack_type"`
	Severity   Severity   `json:"severity"`
	Confidence float64    `json:"confidence"`
}

// AttackEvent is the persisted primary security record. Immutable after
// creation; never mutated or deleted by the core.
type AttackEvent struct {
	RequestID    string            `json:"request_id"`
	SessionID    string            `json:"session_id"`
	Timestamp    time.Time         `json:"timestamp"`
	SourceIP     string            `json:"source_ip"`
	UserAgent    string            `json:"user_agent"`
	Method       string            `json:"method"`
	Endpoint     string            `json:"endpoint"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers"`
	QueryParams  map[string]string `json:"query_params"`
	Body         string            `json:"body,omitempty"`
	StatusCode   int               `json:"status_code"`
	ResponseTime float64           `json:"response_time_ms"`
	AttackType   AttackType        `json:"attack_type"`
	Severity     Severity          `json:"severity"`
	Confidence   float64           `json:"confidence"`
	AnomalyScore float64           `json:"anomaly_score"`
	IsAnomaly    bool              `json:"is_anomaly"`
	HoneypotType string            `json:"honeypot_type"`
	Tags         []string          `json:"tags,omitempty"`
}

// TimingSample is one (timestamp, response time) observation in a
// fingerprint's timing series.
type TimingSample struct {
	Timestamp    time.Time `json:"timestamp"`
	ResponseTime float64   `json:"response_time_ms"`
}

// AttackerFingerprint is the running behavioral aggregate for one source
// address. Created on first sighting, updated on every event, never deleted
// by the core.
type AttackerFingerprint struct {
	SourceIP        string             `json:"source_ip"`
	AttackPatterns  map[AttackType]int `json:"attack_patterns"`
	UserAgents      []string           `json:"user_agents"`
	Endpoints       []string           `json:"endpoints"`
	TimingSeries    []TimingSample     `json:"timing_series,omitempty"`
	TotalRequests   int                `json:"total_requests"`
	UniqueEndpoints int                `json:"unique_endpoints"`
	FirstSeen       time.Time          `json:"first_seen"`
	LastSeen        time.Time          `json:"last_seen"`
	RiskScore       float64            `json:"risk_score"`
	ThreatLevel     Severity           `json:"threat_level"`
	IsBot           bool               `json:"is_bot"`
}

// HoneypotSession groups requests from one (source address, honeypot surface)
// pair. Purely a telemetry grouping key; no authorization semantics.
type HoneypotSession struct {
	SessionID    string    `json:"session_id"`
	SourceIP     string    `json:"source_ip"`
	HoneypotType string    `json:"honeypot_type"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	RequestCount int       `json:"request_count"`
	Endpoints    []string  `json:"endpoints"`
}

// Alert lifecycle states. Only external operator action moves an alert past
// StatusOpen.
const (
	AlertStatusOpen          = "open"
	AlertStatusInvestigating = "investigating"
	AlertStatusResolved      = "resolved"
	AlertStatusFalsePositive = "false_positive"
)

// SecurityAlert is raised when a rolling severity count crosses its
// threshold. One per (source address, severity, day window).
type SecurityAlert struct {
	AlertID         string     `json:"alert_id"`
	Timestamp       time.Time  `json:"timestamp"`
	AlertType       string     `json:"alert_type"`
	Severity        Severity   `json:"severity"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	SourceIP        string     `json:"source_ip"`
	AttackType      AttackType `json:"attack_type"`
	DetectionMethod string     `json:"detection_method"`
	Confidence      float64    `json:"confidence"`
	Status          string     `json:"status"`
}

// Assessment is the outbound scoring result consumed by route handlers.
type Assessment struct {
	AttackType   AttackType `json:"attack_type"`
	Severity     Severity   `json:"severity"`
	Confidence   float64    `json:"confidence"`
	AnomalyScore float64    `json:"anomaly_score"`
	IsAnomaly    bool       `json:"is_anomaly"`
}
