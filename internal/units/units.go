// Package units provides shared constants and conversion for distance
// units. The engine works in millimetres and radians throughout;
// conversion happens only at the edges, for display.
package units

import "math"

// Unit constants
const (
	MM = "mm"
	CM = "cm"
	M  = "m"
)

// ValidUnits contains all valid distance unit values
var ValidUnits = []string{MM, CM, M}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mm, cm, m"
}

// ConvertDistance converts a distance from millimetres to the target
// units. The engine stores all distances in mm.
func ConvertDistance(distanceMM float64, targetUnits string) float64 {
	switch targetUnits {
	case CM:
		return distanceMM / 10.0
	case M:
		return distanceMM / 1000.0
	case MM:
		return distanceMM
	default:
		return distanceMM // default to mm if unknown unit
	}
}

// RadToDeg converts an angle from radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// DegToRad converts an angle from degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}
