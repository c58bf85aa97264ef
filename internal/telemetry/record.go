// v0
// internal/telemetry/record.go
package telemetry

import "time"

// DateLayout is the storage partition format used for collection names and
// log file suffixes.
const DateLayout = "20060102"

// Motion holds the IMU fields of one expanded sample.
type Motion struct {
	AccelX float64 `json:"ACCEL_X"`
	AccelY float64 `json:"ACCEL_Y"`
	AccelZ float64 `json:"ACCEL_Z"`
	GyroX  float64 `json:"GYRO_X"`
	GyroY  float64 `json:"GYRO_Y"`
	GyroZ  float64 `json:"GYRO_Z"`
	Pitch  float64 `json:"PITCH"`
	Roll   float64 `json:"ROLL"`
}

// Position holds the GNSS fields of one expanded sample.
type Position struct {
	Lat      float64 `json:"LAT"`
	Lon      float64 `json:"LON"`
	Velocity float64 `json:"VELOCITY"`
	Altitude float64 `json:"ALTITUDE"`
	Bearing  float64 `json:"BEARING"`
}

// Trip holds the travel counters carried by LTE-family payloads.
type Trip struct {
	Elapsed  float64 `json:"TIME"`
	Distance float64 `json:"DISTANCE"`
}

// Record is the normalized, fixed-schema output of one sample.
// Motion is nil for NONESUB records and Trip is nil outside the LTE family.
type Record struct {
	SensorID string `json:"sensor_id,omitempty"`
	PhoneNum string `json:"phone_num"`
	Time     int64  `json:"time"`
	*Motion
	Position
	*Trip
}

// Date formats the sample timestamp as a storage partition in loc.
func (r Record) Date(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(r.Time).In(loc).Format(DateLayout)
}

// Batch is the ordered result of dispatching one payload.
type Batch struct {
	Variant  Variant
	Date     string
	SensorID string
	PhoneNum string
	Records  []Record
}

// Key is the partition key for downstream messages: the sensor when there is
// one, otherwise the phone.
func (b Batch) Key() string {
	if b.SensorID != "" {
		return b.SensorID
	}
	return b.PhoneNum
}

// Len reports the number of records.
func (b Batch) Len() int { return len(b.Records) }
