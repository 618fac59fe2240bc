package geoip

import (
	"log"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"opsdec/internal/models"
)

// Resolver answers city-level lookups from a local MaxMind database. With no
// database configured every lookup returns nil and the rest of the system
// carries on without location data.
type Resolver struct {
	db *maxminddb.Reader
}

type mmdbRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

func NewResolver(dbPath string) *Resolver {
	if dbPath == "" {
		return &Resolver{}
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		log.Printf("geoip: failed to open %s: %v", dbPath, err)
		return &Resolver{}
	}
	return &Resolver{db: db}
}

func (r *Resolver) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Resolver) Lookup(ip net.IP) *models.GeoResult {
	if ip == nil || r.db == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return nil
	}
	var record mmdbRecord
	if err := r.db.Lookup(ip, &record); err != nil {
		return nil
	}
	return &models.GeoResult{
		IP:      ip.String(),
		Lat:     record.Location.Latitude,
		Lng:     record.Location.Longitude,
		City:    record.City.Names["en"],
		Country: record.Country.ISOCode,
	}
}

// LookupString parses and resolves an address, tolerating host:port forms.
func (r *Resolver) LookupString(addr string) *models.GeoResult {
	if addr == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return r.Lookup(net.ParseIP(addr))
}
