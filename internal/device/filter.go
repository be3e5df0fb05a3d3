package device

import (
	"fmt"
	"strings"
)

// DeviceFilter selects devices during discovery. All present criteria must
// hold for the filter to match.
type DeviceFilter struct {
	Services   []Identifier `json:"services,omitempty"`
	Name       string       `json:"name,omitempty"`
	NamePrefix string       `json:"namePrefix,omitempty"`
}

// RequestDeviceOptions are the options of a discovery request. A nil Filters
// slice means "absent"; an empty one is present but matches nothing.
type RequestDeviceOptions struct {
	Filters          []DeviceFilter `json:"filters"`
	AcceptAllDevices bool           `json:"acceptAllDevices,omitempty"`
	OptionalServices []Identifier   `json:"optionalServices,omitempty"`
}

// Match reports whether dev satisfies the filter.
func (f DeviceFilter) Match(dev ScanResult) (bool, error) {
	cf, err := compileFilter(f)
	if err != nil {
		return false, err
	}
	return cf.match(dev, dev.Services()), nil
}

type compiledFilter struct {
	services   []string
	name       string
	namePrefix string
}

func compileFilter(f DeviceFilter) (compiledFilter, error) {
	cf := compiledFilter{name: f.Name, namePrefix: f.NamePrefix}
	for i, svc := range f.Services {
		canonical, err := svc.Normalize()
		if err != nil {
			return compiledFilter{}, fmt.Errorf("filter service %d: %w", i, err)
		}
		cf.services = append(cf.services, canonical)
	}
	return cf, nil
}

func (cf compiledFilter) match(dev ScanResult, advertised map[string]struct{}) bool {
	for _, svc := range cf.services {
		if _, ok := advertised[svc]; !ok {
			return false
		}
	}
	if cf.name != "" && cf.name != dev.LocalName {
		return false
	}
	if cf.namePrefix != "" && !strings.HasPrefix(dev.LocalName, cf.namePrefix) {
		return false
	}
	return true
}

// FilterSet is a validated, pre-normalized set of discovery criteria.
type FilterSet struct {
	acceptAll bool
	filters   []compiledFilter
}

// NewFilterSet validates the options. It fails with ErrMissingFilters when
// filters are absent and acceptAllDevices is not set, and with
// ErrInvalidIdentifierFormat when a filter service does not normalize.
func NewFilterSet(opts RequestDeviceOptions) (*FilterSet, error) {
	if opts.Filters == nil && !opts.AcceptAllDevices {
		return nil, ErrMissingFilters
	}

	fs := &FilterSet{acceptAll: opts.AcceptAllDevices}
	for i, f := range opts.Filters {
		cf, err := compileFilter(f)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		fs.filters = append(fs.filters, cf)
	}
	return fs, nil
}

// Match reports whether dev is accepted: acceptAllDevices, or any filter matches.
func (fs *FilterSet) Match(dev ScanResult) bool {
	if fs.acceptAll {
		return true
	}
	advertised := dev.Services()
	for _, f := range fs.filters {
		if f.match(dev, advertised) {
			return true
		}
	}
	return false
}
