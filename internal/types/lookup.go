package types

import "time"

// AddressRecord represents the result of external address discovery
type AddressRecord struct {
	IP string `json:"ip"`
}

// GeoRecord represents normalized geolocation data for an address.
// All pointer fields are optional since upstream data is unreliable.
type GeoRecord struct {
	IPAddress      string   `json:"ip_address"`
	CountryCode    *string  `json:"country_code,omitempty"`
	CountryName    *string  `json:"country_name,omitempty"`
	CityName       *string  `json:"city_name,omitempty"`
	RegionName     *string  `json:"region_name,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	ISP            *string  `json:"isp,omitempty"`
	ProviderSource string   `json:"provider_source"`
}

// HasCoordinates reports whether both latitude and longitude are known
func (g *GeoRecord) HasCoordinates() bool {
	return g != nil && g.Latitude != nil && g.Longitude != nil
}

// Country returns the country code or an empty string
func (g *GeoRecord) Country() string {
	if g == nil {
		return ""
	}
	return Deref(g.CountryCode)
}

// AsnRecord represents organization data for the external address
type AsnRecord struct {
	Hostname *string `json:"hostname,omitempty"`
	Org      *string `json:"org,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

// LookupResult is the unit produced by one refresh cycle
type LookupResult struct {
	IP  string     `json:"ip"`
	Geo *GeoRecord `json:"geo,omitempty"`
	ASN *AsnRecord `json:"asn,omitempty"`
}

// Usable reports whether the result carries both an address and geolocation
func (r LookupResult) Usable() bool {
	return r.IP != "" && r.Geo != nil
}

// State represents the current external address state
type State struct {
	CurrentIP     string       `json:"current_ip"`
	Location      *GeoRecord   `json:"location,omitempty"`
	LastLookup    LookupResult `json:"last_lookup"`
	LastCheckAt   time.Time    `json:"last_check_at"`
	Generation    uint64       `json:"generation"`
	SuppressUntil time.Time    `json:"suppress_until"`
	Disabled      bool         `json:"disabled"`
}

// StringPtr returns a pointer to s, or nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or an empty string
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
