package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wakeguard/companion/internal/config"
	"github.com/wakeguard/companion/internal/db"
	"github.com/wakeguard/companion/internal/models"
	"github.com/wakeguard/companion/internal/notify"
	"github.com/wakeguard/companion/internal/publisher"
)

// Cities for realistic start points
var cities = []models.LatLng{
	{Lat: 51.5074, Lng: -0.1278},  // London
	{Lat: 40.7128, Lng: -74.0060}, // New York
	{Lat: 40.4168, Lng: -3.7038},  // Madrid
	{Lat: 48.8566, Lng: 2.3522},   // Paris
	{Lat: 41.0082, Lng: 28.9784},  // Istanbul
	{Lat: 35.6762, Lng: 139.6503}, // Tokyo
	{Lat: 1.3521, Lng: 103.8198},  // Singapore
	{Lat: 25.2048, Lng: 55.2708},  // Dubai
}

func jitterLocation(base models.LatLng, meters float64) models.LatLng {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (rand.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return models.LatLng{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

func randomLocation() models.LatLng {
	base := cities[rand.Intn(len(cities))]
	return jitterLocation(base, 500)
}

// grantAll stands in for the platform permission prompt.
type grantAll struct{}

func (grantAll) RequestLocationPermission(ctx context.Context) (bool, error) { return true, nil }

// gpsSource feeds synthetic sensor callbacks to a publisher.
type gpsSource struct {
	samples chan models.PositionSample
	quit    chan struct{}
}

func newGPSSource() *gpsSource {
	return &gpsSource{
		samples: make(chan models.PositionSample, 16),
		quit:    make(chan struct{}),
	}
}

func (s *gpsSource) Samples() <-chan models.PositionSample { return s.samples }

func (s *gpsSource) Stop() { close(s.quit) }

// drive walks the subject away from its start point, emitting a sample every
// interval. Roughly a third of the samples omit the sensor speed so the
// publisher has to fall back to the derived one, and the occasional heading
// is NaN to exercise coercion.
func (s *gpsSource) drive(start models.LatLng, interval time.Duration) {
	pos := start
	speedKmh := 30 + rand.Float64()*30

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			close(s.samples)
			return
		case <-ticker.C:
			speedKmh += (rand.Float64()*2 - 1) * 1.5
			if speedKmh < 15 {
				speedKmh = 15
			}
			if speedKmh > 90 {
				speedKmh = 90
			}

			stepM := speedKmh / 3.6 * interval.Seconds()
			pos = jitterLocation(pos, stepM)

			sample := models.PositionSample{
				Latitude:   pos.Lat,
				Longitude:  pos.Lng,
				CapturedAt: time.Now(),
			}
			if rand.Float64() < 0.66 {
				v := speedKmh / 3.6
				sample.SpeedMps = &v
			}
			if rand.Float64() < 0.1 {
				nan := math.NaN()
				sample.HeadingDeg = &nan
			} else {
				h := rand.Float64() * 360
				sample.HeadingDeg = &h
			}

			select {
			case s.samples <- sample:
			default:
				// Sensor callbacks outrun the consumer; dropping is fine,
				// the throttle would have discarded these anyway.
			}
		}
	}
}

func main() {
	cfg := config.Load()

	fleetSize := 5
	if v := os.Getenv("FLEET_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			fleetSize = n
		}
	}
	interval := time.Second
	if v := os.Getenv("SIM_TICK_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 100 {
			interval = time.Duration(n) * time.Millisecond
		}
	}

	client, err := db.ConnectMongo()
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	database := client.Database(cfg.MongoDB)
	statuses := &db.MongoStatusCollection{Collection: database.Collection("subject_status")}
	warnings := &db.MongoWarningCollection{Collection: database.Collection("warnings")}

	broker, err := notify.Connect(cfg.BrokerURL, "companion-sim")
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MQTT broker")
	}
	defer broker.Close()

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"interval":   interval,
	}).Info("Starting drive simulation")

	publishers := make([]*publisher.Publisher, 0, fleetSize)
	for i := 0; i < fleetSize; i++ {
		subjectID := "sim-subject-" + strconv.Itoa(i+1)
		source := newGPSSource()
		pub := publisher.New(subjectID, statuses, broker, grantAll{}, source, publisher.Options{
			MinUploadInterval: cfg.MinUploadInterval,
		})

		if err := pub.Start(context.Background()); err != nil {
			log.WithError(err).WithField("subject_id", subjectID).Error("Failed to start publisher")
			continue
		}
		go source.drive(randomLocation(), interval)
		go emitWarnings(subjectID, warnings, broker)
		publishers = append(publishers, pub)
	}

	if len(publishers) == 0 {
		log.Error("No publishers started. Exiting.")
		return
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Stopping simulation")
	for _, pub := range publishers {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pub.Stop(ctx, true); err != nil {
			log.WithError(err).Warn("Publisher stop failed")
		}
		cancel()
	}
}

// emitWarnings occasionally appends a drowsiness warning for the subject, the
// way the on-vehicle monitor hardware would.
func emitWarnings(subjectID string, warnings *db.MongoWarningCollection, broker *notify.Broker) {
	ticker := time.NewTicker(45 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if rand.Float64() > 0.3 {
			continue
		}
		event := models.WarningEvent{
			SubjectID:   subjectID,
			Level:       2 + rand.Intn(2),
			MonitorType: "camera",
			CreatedAt:   time.Now(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := warnings.InsertWarning(ctx, event); err != nil {
			log.WithError(err).WithField("subject_id", subjectID).Warn("Warning insert failed")
			cancel()
			continue
		}
		cancel()
		if err := broker.Publish(notify.WarningTopic(subjectID), notify.EventInsert, event); err != nil {
			log.WithError(err).WithField("subject_id", subjectID).Warn("Warning event publish failed")
		}
		log.WithFields(log.Fields{
			"subject_id": subjectID,
			"level":      event.Level,
		}).Info("Emitted warning")
	}
}
