package models

// LocationData is the provider's view of where a client IP currently is.
// Empty strings mean the provider could not resolve that field.
type LocationData struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	IsVPN   bool   `json:"is_vpn"`
}

// SecurityContext carries per-request client attributes through the login
// pipeline. Fingerprint is caller-supplied and trusted as provided.
type SecurityContext struct {
	ClientIP    string     `json:"client_ip"`
	Fingerprint string     `json:"fingerprint"`
	UserAgent   string     `json:"user_agent,omitempty"`
	DeviceInfo  DeviceInfo `json:"device_info"`
}

// RiskPolicy is resolved once per attempt from user attributes and passed
// into the aggregator, instead of re-deriving bypass at each layer.
type RiskPolicy struct {
	Bypass bool
}

// RiskAssessment is the aggregator's output. Reasons are ordered
// device, location, VPN, time-pattern; Location is the single provider
// fetch shared by the location and VPN checks, nil when unavailable.
type RiskAssessment struct {
	Score    int           `json:"score"`
	Reasons  []string      `json:"reasons"`
	Location *LocationData `json:"location,omitempty"`
}
