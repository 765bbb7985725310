// Package model defines the core persistent value types shared by storage,
// the detection engine, the protocol emulators, and the dashboard backend.
package model

import "time"

// EventKind enumerates the observable actions an emulator can log.
type EventKind string

const (
	EventConnection   EventKind = "connection"
	EventAuthAttempt  EventKind = "auth_attempt"
	EventCommand      EventKind = "command"
	EventRequest      EventKind = "request"
	EventQuery        EventKind = "query"
	EventFileTransfer EventKind = "file_transfer"
	EventNTLMAuth     EventKind = "ntlm_auth"
	EventDisconnect   EventKind = "disconnect"
	EventError        EventKind = "error"
)

// Severity is the alert severity scale, ordered from least to most severe.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Worse returns the more severe of two severities.
func Worse(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// JSON is a free-form JSON-compatible document, used for Session metadata
// and Event/Alert payloads.
type JSON map[string]any

// Session is an attacker's end-to-end interaction with one service instance.
type Session struct {
	ID         string     `json:"id"`
	Service    string     `json:"service"`
	SrcIP      string     `json:"src_ip"`
	SrcPort    int        `json:"src_port"`
	DstPort    int        `json:"dst_port"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Metadata   JSON       `json:"metadata,omitempty"`
}

// Event is one observable action inside a session. ID is assigned by
// Storage on insert and is monotonically increasing.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Service   string    `json:"service"`
	SrcIP     string    `json:"src_ip"`
	Timestamp time.Time `json:"timestamp"`
	Payload   JSON      `json:"payload,omitempty"`
}

// Alert is a detection rule firing.
type Alert struct {
	ID           int64     `json:"id"`
	Rule         string    `json:"rule"`
	Severity     Severity  `json:"severity"`
	SrcIP        string    `json:"src_ip"`
	Service      string    `json:"service"`
	Message      string    `json:"message"`
	EventIDs     []int64   `json:"event_ids"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
	Data         JSON      `json:"data,omitempty"`
}

// GeoInfo is cached IP geolocation metadata.
type GeoInfo struct {
	IP          string    `json:"ip"`
	Country     string    `json:"country,omitempty"`
	CountryCode string    `json:"country_code,omitempty"`
	Region      string    `json:"region,omitempty"`
	City        string    `json:"city,omitempty"`
	Lat         float64   `json:"lat,omitempty"`
	Lon         float64   `json:"lon,omitempty"`
	ISP         string    `json:"isp,omitempty"`
	Org         string    `json:"org,omitempty"`
	AS          string    `json:"as,omitempty"`
	CachedAt    time.Time `json:"cached_at,omitempty"`
}
