package domain

import (
	"cmp"
	"fmt"
)

// GeoID identifies a physical data source.
type GeoID struct {
	System  int `json:"system" yaml:"system"`
	Region  int `json:"region" yaml:"region"`
	Element int `json:"element" yaml:"element"`
}

// RawString returns the form used inside endpoint and queue names.
//
// Example:
//
//	GeoID{System: 1, Region: 0, Element: 3}.RawString() // "geoid1_0_3"
func (g GeoID) RawString() string {
	return fmt.Sprintf("geoid%d_%d_%d", g.System, g.Region, g.Element)
}

func (g GeoID) String() string {
	return fmt.Sprintf("GeoID(system=%d, region=%d, element=%d)", g.System, g.Region, g.Element)
}

// Compare orders GeoIDs by system, then region, then element.
func (g GeoID) Compare(other GeoID) int {
	if c := cmp.Compare(g.System, other.System); c != 0 {
		return c
	}
	if c := cmp.Compare(g.Region, other.Region); c != 0 {
		return c
	}
	return cmp.Compare(g.Element, other.Element)
}

// FragmentProducer is a module pair that answers data requests and emits
// fragments for one GeoID.
type FragmentProducer struct {
	GeoID        GeoID   `json:"geoid"`
	RequestsIn   PortRef `json:"requests_in"`
	FragmentsOut PortRef `json:"fragments_out"`

	// QueueName is assigned once every producer in the system is known.
	QueueName string `json:"queue_name,omitempty"`
}
