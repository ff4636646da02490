package provider

import (
	"errors"
	"fmt"
	"net"

	"ipwatch/internal/types"

	"github.com/oschwald/geoip2-golang"
)

const geoIPSource = "geolite2"

// GeoIP resolves geolocation from local MaxMind databases
type GeoIP struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// OpenGeoIP opens the City database and, when asnPath is set, the ASN database
func OpenGeoIP(cityPath, asnPath string) (*GeoIP, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open city database %s: %w", cityPath, err)
	}

	g := &GeoIP{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			_ = city.Close()
			return nil, fmt.Errorf("failed to open ASN database %s: %w", asnPath, err)
		}
		g.asn = asn
	}
	return g, nil
}

// Lookup implements GeoFallback
func (g *GeoIP) Lookup(ip string) (*types.GeoRecord, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	rec, err := g.city.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("city lookup failed: %w", err)
	}
	if rec.Country.IsoCode == "" && rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return nil, errors.New("address not present in city database")
	}

	geo := &types.GeoRecord{
		IPAddress:      ip,
		CountryCode:    types.StringPtr(rec.Country.IsoCode),
		CountryName:    types.StringPtr(rec.Country.Names["en"]),
		CityName:       types.StringPtr(rec.City.Names["en"]),
		ProviderSource: geoIPSource,
	}
	if len(rec.Subdivisions) > 0 {
		geo.RegionName = types.StringPtr(rec.Subdivisions[0].Names["en"])
	}
	lat, lon := rec.Location.Latitude, rec.Location.Longitude
	geo.Latitude, geo.Longitude = &lat, &lon

	if g.asn != nil {
		if a, err := g.asn.ASN(parsed); err == nil {
			geo.ISP = types.StringPtr(a.AutonomousSystemOrganization)
		}
	}
	return geo, nil
}

// Close closes the underlying databases
func (g *GeoIP) Close() error {
	var errs []error
	if g.city != nil {
		errs = append(errs, g.city.Close())
	}
	if g.asn != nil {
		errs = append(errs, g.asn.Close())
	}
	return errors.Join(errs...)
}
