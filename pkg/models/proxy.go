package models

import "fmt"

// ProxyProtocol is the wire protocol used to reach a proxy
type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
	ProxySOCKS4 ProxyProtocol = "socks4"
	ProxySOCKS5 ProxyProtocol = "socks5"
	ProxyVPN    ProxyProtocol = "vpn"
)

// ProxyProvider identifies where a proxy record came from
type ProxyProvider string

const (
	ProviderPIA         ProxyProvider = "pia"
	ProviderResidential ProxyProvider = "residential"
	ProviderDatacenter  ProxyProvider = "datacenter"
	ProviderMobile      ProxyProvider = "mobile"
)

// ProxyStatus represents a proxy's usability state. It is always a
// deterministic function of the current health score.
type ProxyStatus string

const (
	ProxyActive      ProxyStatus = "active"
	ProxyInactive    ProxyStatus = "inactive"
	ProxyBlocked     ProxyStatus = "blocked"
	ProxyRateLimited ProxyStatus = "rate_limited"
	ProxyFailed      ProxyStatus = "failed"
)

// Health score thresholds for status derivation.
const (
	HealthBlockedBelow     = 0.3
	HealthRateLimitedBelow = 0.5
)

// StatusForHealth derives a proxy status from a health score.
func StatusForHealth(score float64) ProxyStatus {
	switch {
	case score < HealthBlockedBelow:
		return ProxyBlocked
	case score < HealthRateLimitedBelow:
		return ProxyRateLimited
	default:
		return ProxyActive
	}
}

// ProxyRecord represents a single proxy endpoint. Identity fields are
// set at creation; only health score, success rate, counters and the
// derived status mutate afterwards.
type ProxyRecord struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Protocol ProxyProtocol `json:"protocol"`
	Provider ProxyProvider `json:"provider,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`

	Status        ProxyStatus `json:"status"`
	HealthScore   float64     `json:"health_score"`
	SuccessRate   float64     `json:"success_rate"`
	TotalRequests int         `json:"total_requests"`
	FailedCount   int         `json:"failed_requests"`
}

// ID returns the unique proxy identifier.
func (p *ProxyRecord) ID() string {
	return fmt.Sprintf("%s:%d:%s", p.Host, p.Port, p.Protocol)
}

// URL renders the proxy as a client-usable URL string.
func (p *ProxyRecord) URL() string {
	if p.Username != "" && p.Password != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

// RecordOutcome updates counters, success rate and health score for a
// completed request. The reward/penalty deltas are asymmetric on
// purpose: failures should push a proxy out of rotation much faster
// than successes pull it back in. Health score stays clamped to [0,1]
// and status is re-derived from it.
func (p *ProxyRecord) RecordOutcome(success bool, reward, penalty float64) {
	p.TotalRequests++
	if !success {
		p.FailedCount++
	}
	p.SuccessRate = float64(p.TotalRequests-p.FailedCount) / float64(p.TotalRequests)

	if success {
		p.HealthScore = min(1.0, p.HealthScore+reward)
	} else {
		p.HealthScore = max(0.0, p.HealthScore-penalty)
	}
	p.Status = StatusForHealth(p.HealthScore)
}
