// README: Identifiers and coordinates shared by every module.
package types

import "fmt"

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
