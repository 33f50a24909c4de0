package beam

import "math"

// ParallacticAngle returns the parallactic angle in radians for a direction
// (az north through east, za zenith angle) seen from the given latitude. The
// direction is converted to hour angle and declination first.
func ParallacticAngle(az, za, latitude float64) float64 {
	el := math.Pi/2 - za
	sel, cel := math.Sincos(el)
	saz, caz := math.Sincos(az)
	slat, clat := math.Sincos(latitude)

	sdec := sel*slat + cel*clat*caz
	dec := math.Asin(sdec)
	ha := math.Atan2(-saz*cel, sel*clat-cel*slat*caz)

	return math.Atan2(math.Sin(ha), math.Tan(latitude)*math.Cos(dec)-sdec*math.Cos(ha))
}
