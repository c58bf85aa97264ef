// v0
// internal/accident/detect.go
package accident

import (
	"math"

	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// Raw device units, not physical ones.
const (
	AccelThreshold = 16384
	GyroThreshold  = 3000
)

const earthRadiusMeters = 6371010.0

// Direction is the side the rider fell to.
type Direction string

const (
	DirectionLeft  Direction = "LEFT"
	DirectionRight Direction = "RIGHT"
	DirectionNone  Direction = "None"
)

// Summary describes one detected fall.
type Summary struct {
	Date            string    `json:"date"`
	SensorID        string    `json:"sensor_id"`
	AccidentTime    int64     `json:"accident_time"`
	FallenDirection Direction `json:"fallen_direction"`
	ImpactXYZ       float64   `json:"impact_scalar_xyz"`
	ImpactXY        float64   `json:"impact_scalar_xy"`
	MaxSpeed        float64   `json:"before_accident_max_speed"`
	MeanSpeed       float64   `json:"before_accident_mean_speed"`
	ImpactDegree    float64   `json:"impact_degree"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	DistanceM       float64   `json:"distance_m"`
	Samples         int       `json:"samples"`
}

// Detect looks for a fall signature in the time-ordered samples of one
// sensor and window. Records without IMU fields are ignored. The input is not
// modified.
func Detect(samples []telemetry.Record) (Summary, bool) {
	imu := make([]telemetry.Record, 0, len(samples))
	for _, r := range samples {
		if r.Motion != nil {
			imu = append(imu, r)
		}
	}
	var matches []telemetry.Record
	for _, r := range imu {
		if math.Abs(r.AccelX) > AccelThreshold && math.Abs(r.GyroY) > GyroThreshold && r.AccelZ < AccelThreshold {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return Summary{}, false
	}

	first := matches[0]
	sum := Summary{
		SensorID:        first.SensorID,
		AccidentTime:    first.Time,
		FallenDirection: direction(matches),
		Lat:             first.Lat,
		Lon:             first.Lon,
		DistanceM:       round2(distance(imu)),
		Samples:         len(imu),
	}

	xyz := make([]float64, len(imu))
	xy := make([]float64, len(imu))
	speed := make([]float64, len(imu))
	for i, r := range imu {
		xyz[i] = round2(math.Sqrt(r.AccelX*r.AccelX + r.AccelY*r.AccelY + r.AccelZ*r.AccelZ))
		xy[i] = round2(math.Sqrt(r.AccelX*r.AccelX + r.AccelY*r.AccelY))
		speed[i] = r.Velocity
	}
	peak := floats.MaxIdx(xyz)
	sum.ImpactXYZ = xyz[peak]
	sum.ImpactXY = floats.Max(xy)
	sum.MaxSpeed = floats.Max(speed)
	sum.MeanSpeed = stat.Mean(speed, nil)
	sum.ImpactDegree = round2(math.Atan2(imu[peak].AccelY, imu[peak].AccelX) * 180 / math.Pi)
	return sum, true
}

func direction(matches []telemetry.Record) Direction {
	gyro := make([]float64, len(matches))
	accel := make([]float64, len(matches))
	for i, r := range matches {
		gyro[i] = r.GyroY
		accel[i] = r.AccelX
	}
	switch {
	case floats.Min(gyro) < -GyroThreshold && floats.Max(accel) > AccelThreshold:
		return DirectionLeft
	case floats.Max(gyro) > GyroThreshold && floats.Min(accel) < -AccelThreshold:
		return DirectionRight
	default:
		return DirectionNone
	}
}

// distance sums the great-circle legs between consecutive fixes. Samples
// without a fix (0,0) are skipped.
func distance(samples []telemetry.Record) float64 {
	var (
		total float64
		prev  s2.LatLng
		have  bool
	)
	for _, r := range samples {
		if r.Lat == 0 && r.Lon == 0 {
			continue
		}
		p := s2.LatLngFromDegrees(r.Lat, r.Lon)
		if have {
			total += prev.Distance(p).Radians() * earthRadiusMeters
		}
		prev, have = p, true
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
