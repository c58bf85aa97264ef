// v0
// internal/telemetry/expand_test.go
package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gnssBlock = `"GNSS":{"POSITION":[37.5,127.0],"VELOCITY":12.5,"ALTITUDE":40,"BEARING":270}`

func seoul(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	require.NoError(t, err)
	return loc
}

func dispatch(t *testing.T, raw string) Batch {
	t.Helper()
	b, err := NewDispatcher(seoul(t)).DispatchBytes([]byte(raw))
	require.NoError(t, err)
	return b
}

func TestExpandBLESingleSample(t *testing.T) {
	raw := `{"TITLE":"S1_P1_20240101","IMU":[{"1688530356264":{"ACCEL":[398,-434,16346],"GYRO":[-4,-4,-2],"ATTITUDE":[0.5,-0.25]}}],` + gnssBlock + `}`
	b := dispatch(t, raw)

	require.Equal(t, VariantBLE, b.Variant)
	require.Len(t, b.Records, 1)
	assert.Equal(t, "20240101", b.Date)
	want := Record{
		SensorID: "S1",
		PhoneNum: "P1",
		Time:     1688530356264,
		Motion:   &Motion{AccelX: 398, AccelY: -434, AccelZ: 16346, GyroX: -4, GyroY: -4, GyroZ: -2, Pitch: 0.5, Roll: -0.25},
		Position: Position{Lat: 37.5, Lon: 127.0, Velocity: 12.5, Altitude: 40, Bearing: 270},
	}
	if diff := cmp.Diff(want, b.Records[0]); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandBLEPreservesBucketKeyOrder(t *testing.T) {
	raw := `{"TITLE":"S1_P1_20240101","IMU":[` +
		`{"300":{"ACCEL":[1,1,1],"GYRO":[1,1,1],"ATTITUDE":[1,1]},"100":{"ACCEL":[2,2,2],"GYRO":[2,2,2],"ATTITUDE":[2,2]}},` +
		`{"200":{"ACCEL":[3,3,3],"GYRO":[3,3,3],"ATTITUDE":[3,3]}}],` + gnssBlock + `}`
	b := dispatch(t, raw)
	require.Len(t, b.Records, 3)
	var times []int64
	for _, r := range b.Records {
		times = append(times, r.Time)
		assert.Equal(t, 270.0, r.Bearing)
	}
	assert.Equal(t, []int64{300, 100, 200}, times)
}

func TestExpandLTEBurst(t *testing.T) {
	raw := `{"TITLE":"S1_P1","IMU":[{"1000":{"ACCEL":[1,2,3,4,5,6],"GYRO":[7,8,9,10,11,12],"ATTITUDE":[0.1,0.2,0.3,0.4,0.5,0.6]}}],` +
		gnssBlock + `,"TRAVEL":{"TIME":60,"DISTANCE":1.5}}`
	b := dispatch(t, raw)

	require.Equal(t, VariantLTE, b.Variant)
	require.Len(t, b.Records, 2)
	assert.Equal(t, int64(1000), b.Records[0].Time)
	assert.Equal(t, int64(3500), b.Records[1].Time)
	assert.Equal(t, "19700101", b.Date)

	second := b.Records[1]
	assert.Equal(t, Motion{AccelX: 4, AccelY: 5, AccelZ: 6, GyroX: 10, GyroY: 11, GyroZ: 12, Pitch: 0.4, Roll: 0.5}, *second.Motion)
	for _, r := range b.Records {
		assert.Equal(t, "S1", r.SensorID)
		assert.Equal(t, Position{Lat: 37.5, Lon: 127.0, Velocity: 12.5, Altitude: 40, Bearing: 270}, r.Position)
		require.NotNil(t, r.Trip)
		assert.Equal(t, Trip{Elapsed: 60, Distance: 1.5}, *r.Trip)
	}
	if b.Records[0].Trip == b.Records[1].Trip {
		t.Fatalf("records must not share trip storage")
	}
}

func TestExpandLTEV2LocationOverride(t *testing.T) {
	raw := `{"TITLE":"S1_P1","IMU":[{"1000":{"ACCEL":[1,2,3,4,5,6],"GYRO":[1,2,3,4,5,6],"ATTITUDE":[0,0,0,0,0]}}],` +
		gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2},"LOCATION":[10,20,30,40,11,21,31,41]}`
	b := dispatch(t, raw)

	require.Equal(t, VariantLTEV2, b.Variant)
	require.Len(t, b.Records, 2)
	assert.Equal(t, int64(1000), b.Records[0].Time)
	assert.Equal(t, int64(6000), b.Records[1].Time)
	assert.Equal(t, Position{Lat: 10, Lon: 20, Altitude: 30, Velocity: 40, Bearing: 270}, b.Records[0].Position)
	assert.Equal(t, Position{Lat: 11, Lon: 21, Altitude: 31, Velocity: 41, Bearing: 270}, b.Records[1].Position)
}

func TestExpandLTEV2WithoutLocationMatchesLTE(t *testing.T) {
	imu := `"IMU":[{"1000":{"ACCEL":[1,2,3,4,5,6,7,8,9],"GYRO":[1,2,3,4,5,6,7,8,9],"ATTITUDE":[1,2,3,4,5,6,7,8]}}]`
	lte := dispatch(t, `{"TITLE":"S1_P1",`+imu+`,`+gnssBlock+`,"TRAVEL":{"TIME":1,"DISTANCE":2}}`)

	// Without LOCATION the payload classifies as LTE, so exercise the V2
	// expander directly.
	p, err := DecodePayload([]byte(`{"TITLE":"S1_P1",` + imu + `,` + gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2}}`))
	require.NoError(t, err)
	v2, err := expandLTE(p, VariantLTEV2, LTEV2Interval, seoul(t))
	require.NoError(t, err)

	require.Len(t, v2.Records, len(lte.Records))
	for i := range lte.Records {
		want := lte.Records[i]
		want.Time = 1000 + int64(float64(i)*float64(LTEV2Interval)/3)
		if diff := cmp.Diff(want, v2.Records[i]); diff != "" {
			t.Fatalf("record %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	assert.Equal(t, []int64{1000, 4333, 7666}, []int64{v2.Records[0].Time, v2.Records[1].Time, v2.Records[2].Time})
}

func TestExpandNonesub(t *testing.T) {
	b := dispatch(t, `{"TITLE":"P1_20240101","TIME":1704067200000,`+gnssBlock+`}`)

	require.Equal(t, VariantNonesub, b.Variant)
	require.Len(t, b.Records, 1)
	r := b.Records[0]
	assert.Equal(t, int64(1704067200000), r.Time)
	assert.Equal(t, "P1", r.PhoneNum)
	assert.Empty(t, r.SensorID)
	assert.Nil(t, r.Motion)
	assert.Nil(t, r.Trip)
	assert.Equal(t, "20240101", b.Date)
	assert.Equal(t, "P1", b.Key())

	out, err := json.Marshal(r)
	require.NoError(t, err)
	for _, field := range []string{"sensor_id", "ACCEL_X", "PITCH", "DISTANCE"} {
		if strings.Contains(string(out), field) {
			t.Fatalf("nonesub record must not carry %s: %s", field, out)
		}
	}
}

func TestNonesubDateFollowsTimeInZone(t *testing.T) {
	// 2024-01-01T15:00Z is already 2024-01-02 in Seoul.
	raw := []byte(`{"TITLE":"P1_20231231","TIME":1704121200000,` + gnssBlock + `}`)

	local, err := NewDispatcher(seoul(t)).DispatchBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, "20240102", local.Date)
	assert.Equal(t, local.Records[0].Date(seoul(t)), local.Date)

	utc, err := NewDispatcher(nil).DispatchBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, "20240101", utc.Date)
}

func TestDispatchIsIdempotent(t *testing.T) {
	raws := []string{
		`{"TITLE":"S1_P1_20240101","IMU":[{"1":{"ACCEL":[1,2,3],"GYRO":[4,5,6],"ATTITUDE":[7,8]}}],` + gnssBlock + `}`,
		`{"TITLE":"S1_P1","IMU":[{"1000":{"ACCEL":[1,2,3,4,5,6],"GYRO":[1,2,3,4,5,6],"ATTITUDE":[1,2,3,4,5]}}],` + gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2},"LOCATION":[1,2,3,4,5,6,7,8]}`,
		`{"TITLE":"P1_20240101","TIME":5000,` + gnssBlock + `}`,
	}
	d := NewDispatcher(seoul(t))
	for _, raw := range raws {
		p, err := DecodePayload([]byte(raw))
		require.NoError(t, err)
		first, err := d.Dispatch(p)
		require.NoError(t, err)
		second, err := d.Dispatch(p)
		require.NoError(t, err)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("dispatch is not idempotent (-first +second):\n%s", diff)
		}
	}
}

func TestExpandedSampleCountMatchesBursts(t *testing.T) {
	raw := `{"TITLE":"S1_P1","IMU":[` +
		`{"1000":{"ACCEL":[1,2,3],"GYRO":[1,2,3],"ATTITUDE":[1,2]},"6000":{"ACCEL":[1,2,3,4,5,6,7,8,9,1,2,3],"GYRO":[1,2,3,4,5,6,7,8,9,1,2,3],"ATTITUDE":[1,2,3,4,5,6,7,8,9,1,2]}},` +
		`{"11000":{"ACCEL":[],"GYRO":[],"ATTITUDE":[]}},` +
		`{"16000":{"ACCEL":[1,2,3,4,5,6],"GYRO":[1,2,3,4,5,6],"ATTITUDE":[1,2,3,4,5]}}],` +
		gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2}}`
	b := dispatch(t, raw)
	assert.Len(t, b.Records, 1+4+0+2)

	// Times stay strictly increasing inside every bucket.
	for i := 1; i < len(b.Records); i++ {
		if b.Records[i].Time <= b.Records[i-1].Time {
			t.Fatalf("time not increasing at %d: %d <= %d", i, b.Records[i].Time, b.Records[i-1].Time)
		}
	}
}

func TestDispatchMalformed(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		reason Reason
		field  string
	}{
		{"ble_title_segments", `{"TITLE":"S1_P1","IMU":[],` + gnssBlock + `}`, ReasonTitle, KeyTitle},
		{"ble_title_empty_segment", `{"TITLE":"S1__20240101","IMU":[],` + gnssBlock + `}`, ReasonTitle, KeyTitle},
		{"ble_title_not_string", `{"TITLE":12,"IMU":[],` + gnssBlock + `}`, ReasonType, KeyTitle},
		{"ble_missing_title", `{"IMU":[],` + gnssBlock + `}`, ReasonMissingKey, KeyTitle},
		{"ble_accel_stride", `{"TITLE":"S_P_D","IMU":[{"1":{"ACCEL":[1,2],"GYRO":[1,2,3],"ATTITUDE":[1,2]}}],` + gnssBlock + `}`, ReasonStride, "IMU.1.ACCEL"},
		{"ble_attitude_stride", `{"TITLE":"S_P_D","IMU":[{"1":{"ACCEL":[1,2,3],"GYRO":[1,2,3],"ATTITUDE":[1]}}],` + gnssBlock + `}`, ReasonStride, "IMU.1.ATTITUDE"},
		{"ble_missing_gyro", `{"TITLE":"S_P_D","IMU":[{"1":{"ACCEL":[1,2,3],"ATTITUDE":[1,2]}}],` + gnssBlock + `}`, ReasonMissingKey, "IMU[0].1.GYRO"},
		{"ble_bucket_key", `{"TITLE":"S_P_D","IMU":[{"abc":{"ACCEL":[1,2,3],"GYRO":[1,2,3],"ATTITUDE":[1,2]}}],` + gnssBlock + `}`, ReasonType, "IMU[0].abc"},
		{"ble_string_value", `{"TITLE":"S_P_D","IMU":[{"1":{"ACCEL":["1",2,3],"GYRO":[1,2,3],"ATTITUDE":[1,2]}}],` + gnssBlock + `}`, ReasonType, "IMU[0].1.ACCEL"},
		{"gnss_position_short", `{"TITLE":"S_P_D","IMU":[],"GNSS":{"POSITION":[1],"VELOCITY":0,"ALTITUDE":0,"BEARING":0}}`, ReasonIndexRange, "GNSS.POSITION"},
		{"gnss_missing_bearing", `{"TITLE":"S_P_D","IMU":[],"GNSS":{"POSITION":[1,2],"VELOCITY":0,"ALTITUDE":0}}`, ReasonMissingKey, "GNSS.BEARING"},
		{"gnss_null", `{"TITLE":"S_P_D","IMU":[],"GNSS":null}`, ReasonType, KeyGNSS},
		{"lte_title_segments", `{"TITLE":"S1_P1_X","IMU":[],` + gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2}}`, ReasonTitle, KeyTitle},
		{"lte_travel_distance", `{"TITLE":"S1_P1","IMU":[],` + gnssBlock + `,"TRAVEL":{"TIME":1}}`, ReasonMissingKey, "TRAVEL.DISTANCE"},
		{"lte_gyro_short", `{"TITLE":"S1_P1","IMU":[{"1":{"ACCEL":[1,2,3,4,5,6],"GYRO":[1,2,3],"ATTITUDE":[1,2,3,4,5]}}],` + gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2}}`, ReasonIndexRange, "IMU.1.GYRO"},
		{"lte_attitude_short", `{"TITLE":"S1_P1","IMU":[{"1":{"ACCEL":[1,2,3,4,5,6],"GYRO":[1,2,3,4,5,6],"ATTITUDE":[1,2,3,4]}}],` + gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2}}`, ReasonIndexRange, "IMU.1.ATTITUDE"},
		{"lte_v2_location_short", `{"TITLE":"S1_P1","IMU":[{"1":{"ACCEL":[1,2,3,4,5,6],"GYRO":[1,2,3,4,5,6],"ATTITUDE":[1,2,3,4,5]}}],` + gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2},"LOCATION":[1,2,3,4]}`, ReasonIndexRange, KeyLocation},
		{"nonesub_time_string", `{"TITLE":"P1_20240101","TIME":"5000",` + gnssBlock + `}`, ReasonType, KeyTime},
		{"nonesub_title", `{"TITLE":"P1","TIME":5000,` + gnssBlock + `}`, ReasonTitle, KeyTitle},
	}
	d := NewDispatcher(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := DecodePayload([]byte(tc.raw))
			require.NoError(t, err)
			b, err := d.Dispatch(p)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedPayload), "expected malformed, got %v", err)
			var me *MalformedError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tc.reason, me.Reason)
			assert.Equal(t, tc.field, me.Field)
			assert.Equal(t, Classify(p), me.Variant)
			assert.NotEmpty(t, me.Payload)
			assert.Empty(t, b.Records)
		})
	}
}

func TestDispatchRejectsOversizedBurst(t *testing.T) {
	accel := make([]float64, 3*(int(LTEInterval)+1))
	imu, err := json.Marshal(map[string]any{"ACCEL": accel, "GYRO": accel, "ATTITUDE": accel})
	require.NoError(t, err)
	raw := `{"TITLE":"S1_P1","IMU":[{"1":` + string(imu) + `}],` + gnssBlock + `,"TRAVEL":{"TIME":1,"DISTANCE":2}}`
	_, err = NewDispatcher(nil).DispatchBytes([]byte(raw))
	var me *MalformedError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, ReasonBurst, me.Reason)
}

func TestMalformedOnePayloadDoesNotAffectNext(t *testing.T) {
	d := NewDispatcher(nil)
	_, err := d.DispatchBytes([]byte(`{"TITLE":"bad","IMU":[],` + gnssBlock + `}`))
	require.Error(t, err)
	b, err := d.DispatchBytes([]byte(`{"TITLE":"P1_20240101","TIME":5000,` + gnssBlock + `}`))
	require.NoError(t, err)
	assert.Len(t, b.Records, 1)
}
