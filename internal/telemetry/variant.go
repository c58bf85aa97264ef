// v0
// internal/telemetry/variant.go
package telemetry

import "strings"

// Variant enumerates the payload shapes emitted by the rider devices.
type Variant int

const (
	// VariantUnknown marks a payload whose key set matches no known shape.
	VariantUnknown Variant = iota
	// VariantBLE is a phone-relayed BLE payload: one IMU sample per bucket.
	VariantBLE
	// VariantLTE is a direct LTE payload carrying bursts sampled over 5s.
	VariantLTE
	// VariantLTEV2 is the LTE payload with per-sample LOCATION and a 10s burst window.
	VariantLTEV2
	// VariantNonesub is a GNSS-only payload from a phone without a sensor.
	VariantNonesub
)

var variantNames = map[Variant]string{
	VariantUnknown: "UNKNOWN",
	VariantBLE:     "BLE",
	VariantLTE:     "LTE",
	VariantLTEV2:   "LTE_V2",
	VariantNonesub: "NONESUB",
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseVariant resolves the names produced by String, case-insensitively.
func ParseVariant(s string) (Variant, bool) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for v, name := range variantNames {
		if v != VariantUnknown && name == want {
			return v, true
		}
	}
	return VariantUnknown, false
}

// Variants lists every known variant in declaration order.
func Variants() []Variant {
	return []Variant{VariantBLE, VariantLTE, VariantLTEV2, VariantNonesub}
}

// HintFromTopic derives the variant a source topic is expected to carry from
// its name (e.g. "rider.ltev2.raw"). It returns VariantUnknown when the name
// carries no hint.
func HintFromTopic(topic string) Variant {
	t := strings.ToLower(topic)
	switch {
	case strings.Contains(t, "nonesub"):
		return VariantNonesub
	case strings.Contains(t, "ltev2"), strings.Contains(t, "lte_v2"), strings.Contains(t, "lte-v2"):
		return VariantLTEV2
	case strings.Contains(t, "ltev1"), strings.Contains(t, "lte"):
		return VariantLTE
	case strings.Contains(t, "ble"):
		return VariantBLE
	default:
		return VariantUnknown
	}
}
