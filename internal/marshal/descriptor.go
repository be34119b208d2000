package marshal

import (
	"context"
	"strings"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
)

// descriptorFieldCount is the number of string fields in the sandbox-side
// layout of a clap_plugin_descriptor: a sequence of width-sized pointers
// to C strings, followed
// by one pointer-width NUL-sentinel array of feature strings. Grounded
// on original_source/source/wclapN/wclap-translation.hxx.
const descriptorFieldCount = 7 // id, name, vendor, url, manual_url, support_url, version

// ReadDescriptor translates a clap_plugin_descriptor out of sandbox
// memory (spec §4.E class 5/6 composite). The returned Descriptor has
// already had the configured id prefix and name suffix applied — every
// descriptor the bridge hands to the host is namespaced at the moment
// it crosses the boundary.
func (t Translator) ReadDescriptor(r MemoryReader, ptr abi.Ptr) (abi.Descriptor, error) {
	var d abi.Descriptor
	if ptr.IsNull() {
		return d, nil
	}

	fieldPtrs := make([]abi.Ptr, descriptorFieldCount)
	for i := range fieldPtrs {
		v, err := t.readWordAt(r, ptr.Add(uint32(i)*t.Width.Size()))
		if err != nil {
			return d, err
		}
		fieldPtrs[i] = abi.Ptr(v)
	}

	strs := make([]string, descriptorFieldCount)
	for i, p := range fieldPtrs {
		s, ok, err := t.ReadCString(r, p, 0)
		if err != nil {
			return d, err
		}
		if ok {
			strs[i] = s
		}
	}
	d.ID, d.Name, d.Vendor, d.URL, d.ManualURL, d.SupportURL, d.Version =
		strs[0], strs[1], strs[2], strs[3], strs[4], strs[5], strs[6]

	featuresPtr, err := t.readWordAt(r, ptr.Add(uint32(descriptorFieldCount)*t.Width.Size()))
	if err != nil {
		return d, err
	}
	features, err := t.ReadStringArray(r, abi.Ptr(featuresPtr), 0, 0)
	if err != nil {
		return d, err
	}
	d.Features = features

	d.ID = t.IDPrefix + d.ID
	d.Name = d.Name + t.NameSuffix
	return d, nil
}

// WriteDescriptor writes a clap_plugin_descriptor into sandbox memory
// (the reverse direction, used to hand a descriptor's fields back into
// a guest call such as create_plugin's own bookkeeping). The id prefix
// is stripped before it enters the sandbox — the inverse of
// ReadDescriptor's namespacing.
func (t Translator) WriteDescriptor(ctx context.Context, s *arena.Scope, d abi.Descriptor) (abi.Ptr, error) {
	id := strings.TrimPrefix(d.ID, t.IDPrefix)
	name := strings.TrimSuffix(d.Name, t.NameSuffix)

	strs := []string{id, name, d.Vendor, d.URL, d.ManualURL, d.SupportURL, d.Version}
	strPtrs := make([]abi.Ptr, len(strs))
	for i, v := range strs {
		p, err := s.WriteString(ctx, v, 0)
		if err != nil {
			return 0, err
		}
		strPtrs[i] = p
	}

	featuresPtr, err := t.WriteStringArray(ctx, s, d.Features, 0)
	if err != nil {
		return 0, err
	}

	total := uint32(descriptorFieldCount+1) * t.Width.Size()
	buf := make([]byte, total)
	for i, p := range strPtrs {
		copy(buf[uint32(i)*t.Width.Size():], t.writeWord(uint64(p)))
	}
	copy(buf[uint32(descriptorFieldCount)*t.Width.Size():], t.writeWord(uint64(featuresPtr)))

	return s.CopyAcross(ctx, buf)
}

// StripIDPrefix removes the configured id prefix from a host-facing
// plugin id, the operation createPlugin performs before entering the
// sandbox (spec §4.E).
func (t Translator) StripIDPrefix(id string) string {
	return strings.TrimPrefix(id, t.IDPrefix)
}
