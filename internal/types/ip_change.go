package types

import "time"

// IPChange represents a detected external address change
type IPChange struct {
	OldIP       string    `json:"old_ip"`
	NewIP       string    `json:"new_ip"`
	CountryCode string    `json:"country_code,omitempty"`
	ISP         string    `json:"isp,omitempty"`
	Suppressed  bool      `json:"suppressed"`
	Generation  uint64    `json:"generation"`
	Timestamp   time.Time `json:"timestamp"`
}

// Message represents a user-visible notification
type Message struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Change *IPChange `json:"change,omitempty"`
	SentAt time.Time `json:"sent_at"`
}
