// Package bledb holds the table of well-known GATT names accepted in place of
// numeric identifiers, as defined by the Web Bluetooth GATT assigned-numbers
// registry (services, characteristics and descriptors share one namespace).
package bledb

import "sort"

// Kind classifies an alias.
type Kind string

const (
	KindService        Kind = "service"
	KindCharacteristic Kind = "characteristic"
	KindDescriptor     Kind = "descriptor"
)

// Entry is a single alias record.
type Entry struct {
	Alias string
	Code  uint16
	Kind  Kind
}

var entries = []Entry{
	// services
	{"generic_access", 0x1800, KindService},
	{"generic_attribute", 0x1801, KindService},
	{"immediate_alert", 0x1802, KindService},
	{"link_loss", 0x1803, KindService},
	{"tx_power", 0x1804, KindService},
	{"current_time", 0x1805, KindService},
	{"reference_time_update", 0x1806, KindService},
	{"next_dst_change", 0x1807, KindService},
	{"glucose", 0x1808, KindService},
	{"health_thermometer", 0x1809, KindService},
	{"device_information", 0x180a, KindService},
	{"heart_rate", 0x180d, KindService},
	{"phone_alert_status", 0x180e, KindService},
	{"battery_service", 0x180f, KindService},
	{"blood_pressure", 0x1810, KindService},
	{"alert_notification", 0x1811, KindService},
	{"human_interface_device", 0x1812, KindService},
	{"scan_parameters", 0x1813, KindService},
	{"running_speed_and_cadence", 0x1814, KindService},
	{"automation_io", 0x1815, KindService},
	{"cycling_speed_and_cadence", 0x1816, KindService},
	{"cycling_power", 0x1818, KindService},
	{"location_and_navigation", 0x1819, KindService},
	{"environmental_sensing", 0x181a, KindService},
	{"body_composition", 0x181b, KindService},
	{"user_data", 0x181c, KindService},
	{"weight_scale", 0x181d, KindService},
	{"bond_management", 0x181e, KindService},
	{"continuous_glucose_monitoring", 0x181f, KindService},
	{"internet_protocol_support", 0x1820, KindService},
	{"indoor_positioning", 0x1821, KindService},
	{"pulse_oximeter", 0x1822, KindService},
	{"http_proxy", 0x1823, KindService},
	{"transport_discovery", 0x1824, KindService},
	{"object_transfer", 0x1825, KindService},
	{"fitness_machine", 0x1826, KindService},

	// characteristics
	{"gap.device_name", 0x2a00, KindCharacteristic},
	{"gap.appearance", 0x2a01, KindCharacteristic},
	{"gap.peripheral_preferred_connection_parameters", 0x2a04, KindCharacteristic},
	{"gatt.service_changed", 0x2a05, KindCharacteristic},
	{"alert_level", 0x2a06, KindCharacteristic},
	{"tx_power_level", 0x2a07, KindCharacteristic},
	{"date_time", 0x2a08, KindCharacteristic},
	{"day_of_week", 0x2a09, KindCharacteristic},
	{"exact_time_256", 0x2a0c, KindCharacteristic},
	{"glucose_measurement", 0x2a18, KindCharacteristic},
	{"battery_level", 0x2a19, KindCharacteristic},
	{"temperature_measurement", 0x2a1c, KindCharacteristic},
	{"temperature_type", 0x2a1d, KindCharacteristic},
	{"intermediate_temperature", 0x2a1e, KindCharacteristic},
	{"measurement_interval", 0x2a21, KindCharacteristic},
	{"system_id", 0x2a23, KindCharacteristic},
	{"model_number_string", 0x2a24, KindCharacteristic},
	{"serial_number_string", 0x2a25, KindCharacteristic},
	{"firmware_revision_string", 0x2a26, KindCharacteristic},
	{"hardware_revision_string", 0x2a27, KindCharacteristic},
	{"software_revision_string", 0x2a28, KindCharacteristic},
	{"manufacturer_name_string", 0x2a29, KindCharacteristic},
	{"current_time", 0x2a2b, KindCharacteristic},
	{"blood_pressure_measurement", 0x2a35, KindCharacteristic},
	{"heart_rate_measurement", 0x2a37, KindCharacteristic},
	{"body_sensor_location", 0x2a38, KindCharacteristic},
	{"heart_rate_control_point", 0x2a39, KindCharacteristic},
	{"pnp_id", 0x2a50, KindCharacteristic},
	{"csc_measurement", 0x2a5b, KindCharacteristic},
	{"csc_feature", 0x2a5c, KindCharacteristic},
	{"sensor_location", 0x2a5d, KindCharacteristic},
	{"cycling_power_measurement", 0x2a63, KindCharacteristic},
	{"cycling_power_vector", 0x2a64, KindCharacteristic},
	{"cycling_power_feature", 0x2a65, KindCharacteristic},
	{"cycling_power_control_point", 0x2a66, KindCharacteristic},
	{"weight_measurement", 0x2a9d, KindCharacteristic},
	{"weight_scale_feature", 0x2a9e, KindCharacteristic},

	// descriptors
	{"gatt.characteristic_extended_properties", 0x2900, KindDescriptor},
	{"gatt.characteristic_user_description", 0x2901, KindDescriptor},
	{"gatt.client_characteristic_configuration", 0x2902, KindDescriptor},
	{"gatt.server_characteristic_configuration", 0x2903, KindDescriptor},
	{"gatt.characteristic_presentation_format", 0x2904, KindDescriptor},
	{"gatt.characteristic_aggregate_format", 0x2905, KindDescriptor},
	{"valid_range", 0x2906, KindDescriptor},
	{"report_reference", 0x2908, KindDescriptor},
}

var (
	byAlias = make(map[string]Entry, len(entries))
	byCode  = make(map[uint16][]Entry, len(entries))
)

func init() {
	for _, e := range entries {
		// "current_time" exists both as a service and a characteristic; the
		// service wins, matching the order the registry lists them in.
		if _, dup := byAlias[e.Alias]; !dup {
			byAlias[e.Alias] = e
		}
		byCode[e.Code] = append(byCode[e.Code], e)
	}
}

// LookupAlias returns the 16-bit code for a well-known name.
func LookupAlias(alias string) (uint16, bool) {
	e, ok := byAlias[alias]
	return e.Code, ok
}

// LookupCode returns the alias registered for a 16-bit code, or "" if unknown.
func LookupCode(code uint16) string {
	if es := byCode[code]; len(es) > 0 {
		return es[0].Alias
	}
	return ""
}

// Aliases returns every known alias sorted by name.
func Aliases() []Entry {
	out := make([]Entry, 0, len(byAlias))
	for _, e := range byAlias {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}
