package app

import (
	"context"
	"fmt"

	"ipwatch/internal/assets"
	"ipwatch/internal/types"
)

const (
	// NetworkInfoUnavailable labels the detail view when the ASN lookup fails
	NetworkInfoUnavailable = "Failed to load network info"

	mapsURLFormat = "https://maps.google.com/maps?q=%s,%s"
)

// Details is the expanded view of the current address
type Details struct {
	IP       string           `json:"ip"`
	Location *types.GeoRecord `json:"location,omitempty"`
	Country  string           `json:"country"`
	FlagPath string           `json:"flag_path"`

	ASN          *types.AsnRecord `json:"asn,omitempty"`
	NetworkLabel string           `json:"network_label,omitempty"`

	MapPath     string `json:"map_path,omitempty"`
	Coordinates string `json:"coordinates,omitempty"`
	MapsURL     string `json:"maps_url,omitempty"`
}

// Details fetches network info on demand and resolves the flag and map assets
// for the current address. The map fetch blocks up to the map timeout.
func (a *App) Details(ctx context.Context) Details {
	st := a.orchestrator.State()
	d := Details{
		IP:       st.CurrentIP,
		Location: st.Location,
		Country:  countryLabel(st.Location),
		FlagPath: a.assets.FlagPath(st.Location.Country()),
	}

	asn, err := a.provider.FetchASN(ctx, a.config.Refresh.FetchTimeout)
	if err != nil || asn == nil {
		d.NetworkLabel = NetworkInfoUnavailable
	} else {
		d.ASN = asn
	}

	if !st.Location.HasCoordinates() {
		return d
	}
	lat, lon := *st.Location.Latitude, *st.Location.Longitude
	latKey, okLat := assets.NormalizeCoord(lat, a.assets.Precision())
	lonKey, okLon := assets.NormalizeCoord(lon, a.assets.Precision())
	if !okLat || !okLon {
		return d
	}

	d.MapsURL = fmt.Sprintf(mapsURLFormat, latKey, lonKey)
	if path, ok := a.assets.MapPath(ctx, lat, lon); ok {
		d.MapPath = path
	} else {
		d.Coordinates = "Coordinates: " + latKey + ", " + lonKey
	}
	return d
}

// countryLabel renders "Name (CC), City"
func countryLabel(geo *types.GeoRecord) string {
	name := "Unknown"
	if geo == nil {
		return name
	}
	if geo.CountryName != nil {
		name = *geo.CountryName
	}
	if geo.CountryCode != nil {
		name += " (" + *geo.CountryCode + ")"
	}
	if geo.CityName != nil {
		name += ", " + *geo.CityName
	}
	return name
}
