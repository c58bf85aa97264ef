// v0
// internal/store/mongo.go
package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// Database names per variant family.
const (
	DatabaseBLE     = "BLE"
	DatabaseLTE     = "LTE"
	DatabaseNonesub = "Nonesub"
)

// DatabaseFor maps a variant to its database. LTE and LTE_V2 share one.
func DatabaseFor(v telemetry.Variant) string {
	switch v {
	case telemetry.VariantBLE:
		return DatabaseBLE
	case telemetry.VariantLTE, telemetry.VariantLTEV2:
		return DatabaseLTE
	case telemetry.VariantNonesub:
		return DatabaseNonesub
	default:
		return ""
	}
}

type collection interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Mongo stores records in one collection per day inside the variant's
// database. Writes use w=1 without journaling.
type Mongo struct {
	client     *mongo.Client
	collection func(database, name string) collection
	log        *slog.Logger
}

// MongoConfig holds the connection settings.
type MongoConfig struct {
	URI       string
	TLSCAPath string
}

// OpenMongo connects and pings the deployment.
func OpenMongo(ctx context.Context, cfg MongoConfig, log *slog.Logger) (*Mongo, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(10 * time.Second)
	if cfg.TLSCAPath != "" {
		tlsCfg, err := loadTLS(cfg.TLSCAPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect document store: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping document store: %w", err)
	}
	journal := false
	wc := &writeconcern.WriteConcern{W: 1, Journal: &journal}
	m := &Mongo{client: client, log: log}
	m.collection = func(database, name string) collection {
		return client.Database(database).Collection(name, options.Collection().SetWriteConcern(wc))
	}
	log.Info("document_store_ready", slog.Bool("tls", cfg.TLSCAPath != ""))
	return m, nil
}

func loadTLS(path string) (*tls.Config, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %s holds no certificates", path)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// mongoRecord is the stored document. Optional groups are flattened with
// pointers so NONESUB documents carry no IMU fields.
type mongoRecord struct {
	SensorID string   `bson:"sensor_id,omitempty"`
	PhoneNum string   `bson:"phone_num"`
	Time     int64    `bson:"time"`
	AccelX   *float64 `bson:"ACCEL_X,omitempty"`
	AccelY   *float64 `bson:"ACCEL_Y,omitempty"`
	AccelZ   *float64 `bson:"ACCEL_Z,omitempty"`
	GyroX    *float64 `bson:"GYRO_X,omitempty"`
	GyroY    *float64 `bson:"GYRO_Y,omitempty"`
	GyroZ    *float64 `bson:"GYRO_Z,omitempty"`
	Pitch    *float64 `bson:"PITCH,omitempty"`
	Roll     *float64 `bson:"ROLL,omitempty"`
	Lat      float64  `bson:"LAT"`
	Lon      float64  `bson:"LON"`
	Velocity float64  `bson:"VELOCITY"`
	Altitude float64  `bson:"ALTITUDE"`
	Bearing  float64  `bson:"BEARING"`
	Elapsed  *float64 `bson:"TIME,omitempty"`
	Distance *float64 `bson:"DISTANCE,omitempty"`
}

func toDocument(r telemetry.Record) mongoRecord {
	doc := mongoRecord{
		SensorID: r.SensorID,
		PhoneNum: r.PhoneNum,
		Time:     r.Time,
		Lat:      r.Lat,
		Lon:      r.Lon,
		Velocity: r.Velocity,
		Altitude: r.Altitude,
		Bearing:  r.Bearing,
	}
	if m := r.Motion; m != nil {
		doc.AccelX, doc.AccelY, doc.AccelZ = ptr(m.AccelX), ptr(m.AccelY), ptr(m.AccelZ)
		doc.GyroX, doc.GyroY, doc.GyroZ = ptr(m.GyroX), ptr(m.GyroY), ptr(m.GyroZ)
		doc.Pitch, doc.Roll = ptr(m.Pitch), ptr(m.Roll)
	}
	if t := r.Trip; t != nil {
		doc.Elapsed, doc.Distance = ptr(t.Elapsed), ptr(t.Distance)
	}
	return doc
}

func (d mongoRecord) record() telemetry.Record {
	r := telemetry.Record{
		SensorID: d.SensorID,
		PhoneNum: d.PhoneNum,
		Time:     d.Time,
		Position: telemetry.Position{
			Lat:      d.Lat,
			Lon:      d.Lon,
			Velocity: d.Velocity,
			Altitude: d.Altitude,
			Bearing:  d.Bearing,
		},
	}
	if d.AccelX != nil {
		r.Motion = &telemetry.Motion{
			AccelX: deref(d.AccelX), AccelY: deref(d.AccelY), AccelZ: deref(d.AccelZ),
			GyroX: deref(d.GyroX), GyroY: deref(d.GyroY), GyroZ: deref(d.GyroZ),
			Pitch: deref(d.Pitch), Roll: deref(d.Roll),
		}
	}
	if d.Elapsed != nil || d.Distance != nil {
		r.Trip = &telemetry.Trip{Elapsed: deref(d.Elapsed), Distance: deref(d.Distance)}
	}
	return r
}

func ptr(f float64) *float64 { return &f }

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// InsertRecords writes records to <variant database>.<day> with one ordered
// InsertMany.
func (m *Mongo) InsertRecords(ctx context.Context, v telemetry.Variant, day string, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}
	database := DatabaseFor(v)
	if database == "" {
		return fmt.Errorf("no database for variant %s", v)
	}
	docs := make([]interface{}, 0, len(records))
	for _, r := range records {
		docs = append(docs, toDocument(r))
	}
	if _, err := m.collection(database, day).InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("insert %s.%s: %w", database, day, err)
	}
	return nil
}

// Sensors lists the BLE sensors with samples on day.
func (m *Mongo) Sensors(ctx context.Context, day string) ([]string, error) {
	values, err := m.collection(DatabaseBLE, day).Distinct(ctx, "sensor_id", bson.D{})
	if err != nil {
		return nil, fmt.Errorf("distinct sensors %s: %w", day, err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// Records returns the BLE samples of one sensor on day ordered by time.
func (m *Mongo) Records(ctx context.Context, day, sensorID string) ([]telemetry.Record, error) {
	cur, err := m.collection(DatabaseBLE, day).Find(ctx,
		bson.D{{Key: "sensor_id", Value: sensorID}},
		options.Find().SetSort(bson.D{{Key: "time", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", day, sensorID, err)
	}
	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", day, sensorID, err)
	}
	out := make([]telemetry.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

// Ping checks the deployment.
func (m *Mongo) Ping(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
