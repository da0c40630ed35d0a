package geo

import (
	"net/netip"
	"testing"

	"github.com/icfleet/fleetd/internal/model"
)

type stubReader struct {
	rec     Record
	lookups int
}

func (s *stubReader) Lookup(_ netip.Addr) Record { s.lookups++; return s.rec }
func (s *stubReader) Close() error               { return nil }

func TestEnrichFillsOnlyUnknownFeatures(t *testing.T) {
	reader := &stubReader{rec: Record{Continent: "eu", Country: "ch", City: "zurich"}}
	e := NewEnricher(reader)

	features := model.NewFeatureMap(map[model.NodeFeature]string{
		model.FeatureCountry: "de", // registry-provided, must survive
	})
	got := e.Enrich(netip.MustParseAddr("2001:db8::1"), features)

	if got.Get(model.FeatureCountry) != "de" {
		t.Fatalf("country = %q, registry value must win", got.Get(model.FeatureCountry))
	}
	if got.Get(model.FeatureContinent) != "eu" {
		t.Fatalf("continent = %q, want eu", got.Get(model.FeatureContinent))
	}
	if got.Get(model.FeatureCity) != "zurich" {
		t.Fatalf("city = %q, want zurich", got.Get(model.FeatureCity))
	}
}

func TestEnrichSkipsLookupWhenComplete(t *testing.T) {
	reader := &stubReader{rec: Record{Continent: "eu"}}
	e := NewEnricher(reader)

	features := model.NewFeatureMap(map[model.NodeFeature]string{
		model.FeatureContinent: "na",
		model.FeatureCountry:   "us",
		model.FeatureCity:      "boston",
	})
	e.Enrich(netip.MustParseAddr("2001:db8::1"), features)
	if reader.lookups != 0 {
		t.Fatalf("lookups = %d, want 0 for fully specified features", reader.lookups)
	}
}

func TestEnrichKeepsUnknownOnEmptyRecord(t *testing.T) {
	e := NewEnricher(NoOpReader())
	features := model.UniformFeatureMap(model.UnknownFeatureValue)
	got := e.Enrich(netip.MustParseAddr("2001:db8::1"), features)
	if got.Get(model.FeatureCountry) != model.UnknownFeatureValue {
		t.Fatalf("country = %q, want unknown preserved", got.Get(model.FeatureCountry))
	}
}
