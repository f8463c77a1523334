// Package dripper holds the discrete emitter flow-rate enumeration used to
// derive a plant's dripper_flow_rate_l_per_s.
package dripper

import "fmt"

// Type is one of the fixed physical emitter flow rates the cloud may
// assign to a plant.
type Type int

const (
	Type1LH Type = iota // 1 L/h
	Type2LH             // 2 L/h
	Type4LH             // 4 L/h
	Type8LH             // 8 L/h
)

var flowRatesLH = map[Type]float64{
	Type1LH: 1.0,
	Type2LH: 2.0,
	Type4LH: 4.0,
	Type8LH: 8.0,
}

var displayNames = map[Type]string{
	Type1LH: "1L/h",
	Type2LH: "2L/h",
	Type4LH: "4L/h",
	Type8LH: "8L/h",
}

// FlowRateLH returns the flow rate in liters per hour.
func (t Type) FlowRateLH() float64 { return flowRatesLH[t] }

// FlowRateLS returns the flow rate in liters per second.
func (t Type) FlowRateLS() float64 { return flowRatesLH[t] / 3600 }

// String returns the display name, e.g. "2L/h".
func (t Type) String() string { return displayNames[t] }

// WaterAmount returns the liters delivered over the given duration.
func (t Type) WaterAmount(seconds float64) float64 {
	return seconds * t.FlowRateLS()
}

// numericAliases accepts the bare L/h number the cloud sometimes sends
// instead of the "NL/h" display string.
var numericAliases = map[float64]Type{
	1: Type1LH,
	2: Type2LH,
	4: Type4LH,
	8: Type8LH,
}

// FromString parses either a display string ("2L/h") or a bare number
// ("2") into a Type. Both forms appear on the wire.
func FromString(s string) (Type, error) {
	for t, name := range displayNames {
		if name == s {
			return t, nil
		}
	}
	var n float64
	if _, err := fmt.Sscanf(s, "%g", &n); err == nil {
		if t, ok := numericAliases[n]; ok {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid dripper type: %q", s)
}

// FromLH maps a bare L/h numeric value onto a Type.
func FromLH(lh float64) (Type, error) {
	if t, ok := numericAliases[lh]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("invalid dripper flow rate: %v L/h", lh)
}
