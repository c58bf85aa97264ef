// v0
// internal/telemetry/expand.go
package telemetry

import (
	"fmt"
	"time"
)

// Burst windows of the LTE family, in milliseconds.
const (
	LTEInterval   int64 = 5000
	LTEV2Interval int64 = 10000
)

func expandBLE(p RawPayload) (Batch, error) {
	title, err := p.title(3)
	if err != nil {
		return Batch{}, err
	}
	gnss, err := p.gnss()
	if err != nil {
		return Batch{}, err
	}
	buckets, err := p.buckets()
	if err != nil {
		return Batch{}, err
	}
	b := Batch{Variant: VariantBLE, SensorID: title[0], PhoneNum: title[1], Date: title[2]}
	b.Records = make([]Record, 0, len(buckets))
	for i, bucket := range buckets {
		field := fmt.Sprintf("IMU.%s", bucket.Key)
		s := bucket.Sample
		if err := checkStride(s.Accel, 3, field+".ACCEL"); err != nil {
			return Batch{}, err
		}
		if err := checkStride(s.Gyro, 3, field+".GYRO"); err != nil {
			return Batch{}, err
		}
		if err := checkStride(s.Attitude, 2, field+".ATTITUDE"); err != nil {
			return Batch{}, err
		}
		if len(s.Accel) == 0 || len(s.Gyro) == 0 || len(s.Attitude) == 0 {
			return Batch{}, malformed(ReasonIndexRange, field, "bucket %d carries no sample", i)
		}
		b.Records = append(b.Records, Record{
			SensorID: b.SensorID,
			PhoneNum: b.PhoneNum,
			Time:     bucket.Time,
			Motion:   motionAt(s, 0, 0),
			Position: gnss.position(),
		})
	}
	return b, nil
}

// expandLTE handles both LTE generations. Each bucket holds a burst of
// k = len(ACCEL)/3 samples spread evenly over interval.
func expandLTE(p RawPayload, v Variant, interval int64, loc *time.Location) (Batch, error) {
	title, err := p.title(2)
	if err != nil {
		return Batch{}, err
	}
	gnss, err := p.gnss()
	if err != nil {
		return Batch{}, err
	}
	trip, err := p.travel()
	if err != nil {
		return Batch{}, err
	}
	var location []float64
	if v == VariantLTEV2 && p.Has(KeyLocation) {
		if location, err = p.location(); err != nil {
			return Batch{}, err
		}
	}
	buckets, err := p.buckets()
	if err != nil {
		return Batch{}, err
	}

	b := Batch{Variant: v, SensorID: title[0], PhoneNum: title[1]}
	if len(buckets) > 0 {
		b.Date = Record{Time: buckets[0].Time}.Date(loc)
	}
	for _, bucket := range buckets {
		field := fmt.Sprintf("IMU.%s", bucket.Key)
		s := bucket.Sample
		if err := checkStride(s.Accel, 3, field+".ACCEL"); err != nil {
			return Batch{}, err
		}
		if err := checkStride(s.Gyro, 3, field+".GYRO"); err != nil {
			return Batch{}, err
		}
		k := len(s.Accel) / 3
		if k == 0 {
			continue
		}
		if int64(k) > interval {
			return Batch{}, malformed(ReasonBurst, field+".ACCEL", "%d samples do not fit a %dms window", k, interval)
		}
		if len(s.Gyro) < 3*k {
			return Batch{}, malformed(ReasonIndexRange, field+".GYRO", "has %d values, want %d", len(s.Gyro), 3*k)
		}
		// ATTITUDE shares the ACCEL offset, so the last read is at 3(k-1)+1.
		if need := 3*(k-1) + 2; len(s.Attitude) < need {
			return Batch{}, malformed(ReasonIndexRange, field+".ATTITUDE", "has %d values, want at least %d", len(s.Attitude), need)
		}
		if location != nil && len(location) < 4*k {
			return Batch{}, malformed(ReasonIndexRange, KeyLocation, "has %d values, want %d for %d samples", len(location), 4*k, k)
		}
		step := float64(interval) / float64(k)
		for i := 0; i < k; i++ {
			pos := gnss.position()
			if location != nil {
				o := 4 * i
				pos.Lat = location[o]
				pos.Lon = location[o+1]
				pos.Altitude = location[o+2]
				pos.Velocity = location[o+3]
			}
			t := trip
			b.Records = append(b.Records, Record{
				SensorID: b.SensorID,
				PhoneNum: b.PhoneNum,
				Time:     bucket.Time + int64(float64(i)*step),
				Motion:   motionAt(s, 3*i, 3*i),
				Position: pos,
				Trip:     &t,
			})
		}
	}
	return b, nil
}

// expandNonesub keeps the TITLE date segment for validation only. The storage
// date follows TIME in loc, like the LTE family.
func expandNonesub(p RawPayload, loc *time.Location) (Batch, error) {
	title, err := p.title(2)
	if err != nil {
		return Batch{}, err
	}
	gnss, err := p.gnss()
	if err != nil {
		return Batch{}, err
	}
	ts, err := p.timestamp()
	if err != nil {
		return Batch{}, err
	}
	rec := Record{PhoneNum: title[0], Time: ts, Position: gnss.position()}
	return Batch{
		Variant:  VariantNonesub,
		PhoneNum: title[0],
		Date:     rec.Date(loc),
		Records:  []Record{rec},
	}, nil
}

func (g GNSS) position() Position {
	return Position{Lat: g.Lat, Lon: g.Lon, Velocity: g.Velocity, Altitude: g.Altitude, Bearing: g.Bearing}
}

func motionAt(s IMUSample, imu, att int) *Motion {
	return &Motion{
		AccelX: s.Accel[imu],
		AccelY: s.Accel[imu+1],
		AccelZ: s.Accel[imu+2],
		GyroX:  s.Gyro[imu],
		GyroY:  s.Gyro[imu+1],
		GyroZ:  s.Gyro[imu+2],
		Pitch:  s.Attitude[att],
		Roll:   s.Attitude[att+1],
	}
}

func checkStride(vals []float64, stride int, field string) error {
	if len(vals)%stride != 0 {
		return malformed(ReasonStride, field, "length %d is not a multiple of %d", len(vals), stride)
	}
	return nil
}
