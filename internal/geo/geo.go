// Package geo enriches node feature maps with continent, country and
// city derived from the node's IPv6 address, for registries whose data
// center records left those features unknown.
package geo

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/oschwald/maxminddb-golang"

	"github.com/icfleet/fleetd/internal/model"
)

// Record is one address lookup result. Empty fields mean the database
// carries no value for them.
type Record struct {
	Continent string
	Country   string
	City      string
}

// Reader abstracts the GeoIP database reader (e.g., a maxminddb reader).
// This interface allows different implementations and simplifies testing.
type Reader interface {
	Lookup(ip netip.Addr) Record
	Close() error
}

// noOpReader returns empty records for all lookups.
type noOpReader struct{}

func (noOpReader) Lookup(_ netip.Addr) Record { return Record{} }
func (noOpReader) Close() error               { return nil }

// NoOpReader is a placeholder Reader for tests and deployments without
// a GeoIP database.
func NoOpReader() Reader { return noOpReader{} }

type mmdbReader struct {
	reader *maxminddb.Reader
}

type mmdbCityRecord struct {
	Continent struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"continent"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

func (m *mmdbReader) Lookup(ip netip.Addr) Record {
	if m == nil || m.reader == nil || !ip.IsValid() {
		return Record{}
	}
	ip = ip.Unmap()
	var rec mmdbCityRecord
	if err := m.reader.Lookup(net.IP(ip.AsSlice()), &rec); err != nil {
		return Record{}
	}
	out := Record{
		Continent: strings.ToLower(rec.Continent.Code),
		Country:   strings.ToLower(rec.Country.ISOCode),
		City:      strings.ToLower(rec.City.Names["en"]),
	}
	if out.Country == "" {
		out.Country = strings.ToLower(rec.RegisteredCountry.ISOCode)
	}
	return out
}

func (m *mmdbReader) Close() error {
	if m == nil || m.reader == nil {
		return nil
	}
	return m.reader.Close()
}

// Open opens a maxminddb city database file.
func Open(path string) (Reader, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open %s: %w", path, err)
	}
	return &mmdbReader{reader: r}, nil
}

// Enricher fills unknown geo features from address lookups. It
// implements registry.FeatureEnricher.
type Enricher struct {
	reader Reader
}

// NewEnricher wraps a Reader.
func NewEnricher(reader Reader) *Enricher {
	if reader == nil {
		reader = NoOpReader()
	}
	return &Enricher{reader: reader}
}

// Close releases the underlying reader.
func (e *Enricher) Close() error { return e.reader.Close() }

// Enrich replaces unknown continent, country and city features with the
// database values. Features the registry already filled are kept.
func (e *Enricher) Enrich(addr netip.Addr, features model.FeatureMap) model.FeatureMap {
	needsContinent := features.Get(model.FeatureContinent) == model.UnknownFeatureValue
	needsCountry := features.Get(model.FeatureCountry) == model.UnknownFeatureValue
	needsCity := features.Get(model.FeatureCity) == model.UnknownFeatureValue
	if !needsContinent && !needsCountry && !needsCity {
		return features
	}

	rec := e.reader.Lookup(addr)
	if needsContinent && rec.Continent != "" {
		features = features.With(model.FeatureContinent, rec.Continent)
	}
	if needsCountry && rec.Country != "" {
		features = features.With(model.FeatureCountry, rec.Country)
	}
	if needsCity && rec.City != "" {
		features = features.With(model.FeatureCity, rec.City)
	}
	return features
}
