package abi

// Descriptor is the native-side representation of a clap_plugin_descriptor.
// When translated sandbox→native the Marshaller prefixes ID with the
// configured id prefix and suffixes Name with the configured name suffix
// (spec §4.E, §8); createPlugin strips the prefix again before entering
// the sandbox.
type Descriptor struct {
	ID          string
	Name        string
	Vendor      string
	URL         string
	ManualURL   string
	SupportURL  string
	Version     string
	Description string
	Features    []string
}

// Equal reports whether two descriptors carry the same field values,
// used by the descriptor round-trip law (spec §8).
func (d Descriptor) Equal(o Descriptor) bool {
	if d.ID != o.ID || d.Name != o.Name || d.Vendor != o.Vendor ||
		d.URL != o.URL || d.ManualURL != o.ManualURL || d.SupportURL != o.SupportURL ||
		d.Version != o.Version || d.Description != o.Description {
		return false
	}
	if len(d.Features) != len(o.Features) {
		return false
	}
	for i := range d.Features {
		if d.Features[i] != o.Features[i] {
			return false
		}
	}
	return true
}

// Version is a {major, minor, revision} triple: the version a bundle's
// clap_entry record reports, which the outer C ABI's version() call
// returns for an opened bundle.
type Version struct {
	Major    uint32
	Minor    uint32
	Revision uint32
}
