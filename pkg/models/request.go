package models

import "time"

// Backend identifies an extraction engine
type Backend string

const (
	BackendAuto   Backend = "auto"   // let the orchestrator pick
	BackendColly  Backend = "colly"  // lightweight HTTP crawl
	BackendFetch  Backend = "fetch"  // HTTP client + selector parsing
	BackendHeaded Backend = "headed" // full browser automation
)

// KnownBackends lists every dispatchable backend in fallback order.
// The fallback ring is colly -> fetch -> headed -> colly.
var KnownBackends = []Backend{BackendColly, BackendFetch, BackendHeaded}

// Fallback returns the next backend in the ring.
func (b Backend) Fallback() Backend {
	switch b {
	case BackendColly:
		return BackendFetch
	case BackendFetch:
		return BackendHeaded
	default:
		return BackendColly
	}
}

// AuthType represents the authentication scheme a target requires
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthForm   AuthType = "form"
	AuthCustom AuthType = "custom"
)

// Priority represents request priority
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ExtractionRequest represents a single extraction job. It is owned by
// the caller and read-only to the orchestrator once dispatched.
type ExtractionRequest struct {
	ID      string  `json:"id,omitempty"`
	URL     string  `json:"url" validate:"required,url"`
	Backend Backend `json:"backend,omitempty"` // empty or "auto" means the orchestrator decides

	Priority Priority `json:"priority,omitempty"`

	// Authentication
	AuthType        AuthType          `json:"auth_type,omitempty"`
	AuthCredentials map[string]string `json:"auth_credentials,omitempty"`

	// Headers and cookies passed through to the engine
	Headers map[string]string `json:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`

	// Extraction configuration
	Selectors      map[string]string `json:"selectors,omitempty"`       // field name -> CSS selector
	WaitConditions []string          `json:"wait_conditions,omitempty"` // e.g. "networkidle", "javascript"
	Timeout        time.Duration     `json:"timeout,omitempty"`
	MaxRetries     int               `json:"max_retries,omitempty"`

	// Proxy configuration
	UseProxy  bool   `json:"use_proxy,omitempty"`
	ProxyPool string `json:"proxy_pool,omitempty"` // pool name, empty means default
	SessionID string `json:"session_id,omitempty"` // sticky session hint
	Country   string `json:"country,omitempty"`    // proxy geography hint

	// Data extraction toggles
	ExtractLinks  bool `json:"extract_links,omitempty"`
	ExtractImages bool `json:"extract_images,omitempty"`
}

// NeedsJavaScript reports whether any wait condition implies a
// JavaScript-rendered page.
func (r *ExtractionRequest) NeedsJavaScript() bool {
	for _, cond := range r.WaitConditions {
		if cond == "networkidle" || cond == "javascript" {
			return true
		}
	}
	return false
}

// NeedsAuthentication reports whether the request carries an auth requirement.
func (r *ExtractionRequest) NeedsAuthentication() bool {
	return r.AuthType != "" && r.AuthType != AuthNone
}

// NeedsComplexInteraction reports whether the request requires
// multi-step page interaction.
func (r *ExtractionRequest) NeedsComplexInteraction() bool {
	return len(r.WaitConditions) > 2
}

// IsHighPriority reports whether the request is high or urgent priority.
func (r *ExtractionRequest) IsHighPriority() bool {
	return r.Priority == PriorityHigh || r.Priority == PriorityUrgent
}
