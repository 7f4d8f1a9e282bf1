// Package publisher turns an unthrottled device position stream into at most
// one persisted status update per interval.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wakeguard/companion/internal/geo"
	"github.com/wakeguard/companion/internal/models"
	"github.com/wakeguard/companion/internal/notify"
)

// DefaultMinUploadInterval is the hard publish-rate ceiling.
const DefaultMinUploadInterval = 7 * time.Second

var (
	// ErrPermissionDenied means the platform refused the location-tracking
	// grant. Fatal to starting; surfaced to the user, never retried here.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrAlreadyRunning means Start was called while the stream is active.
	ErrAlreadyRunning = errors.New("publisher already running")
)

// State is the publisher lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// StatusStore is the slice of storage the publisher writes through.
type StatusStore interface {
	UpsertStatus(ctx context.Context, status models.SubjectStatus) error
	SetMode(ctx context.Context, subjectID string, mode models.Mode) error
}

// Notifier fans an accepted upsert out as a change event.
type Notifier interface {
	Publish(topic string, eventType notify.EventType, row interface{}) error
}

// PermissionGate models the platform location-permission prompt.
type PermissionGate interface {
	RequestLocationPermission(ctx context.Context) (bool, error)
}

// Source is the device position stream. Samples delivers raw sensor
// callbacks at an uncontrolled rate; Stop ends delivery.
type Source interface {
	Samples() <-chan models.PositionSample
	Stop()
}

// Options tunes a publisher instance.
type Options struct {
	MinUploadInterval time.Duration
}

// Publisher owns one subject's status row: it is the only writer of that row.
type Publisher struct {
	subjectID   string
	store       StatusStore
	notifier    Notifier
	gate        PermissionGate
	source      Source
	minInterval time.Duration
	now         func() time.Time

	mu             sync.Mutex
	state          State
	lastAcceptedAt time.Time
	hasAccepted    bool
	prev           *models.PositionSample
	quit           chan struct{}
	done           chan struct{}
}

// New creates a stopped publisher for the given subject.
func New(subjectID string, store StatusStore, notifier Notifier, gate PermissionGate, source Source, opts Options) *Publisher {
	interval := opts.MinUploadInterval
	if interval <= 0 {
		interval = DefaultMinUploadInterval
	}
	return &Publisher{
		subjectID:   subjectID,
		store:       store,
		notifier:    notifier,
		gate:        gate,
		source:      source,
		minInterval: interval,
		now:         time.Now,
		state:       StateStopped,
	}
}

// State returns the current lifecycle state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start requests the location permission and begins consuming the position
// stream. On denial it returns ErrPermissionDenied and stays stopped.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateStopped {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.state = StateStarting
	p.mu.Unlock()

	granted, err := p.gate.RequestLocationPermission(ctx)
	if err != nil || !granted {
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
		if err != nil {
			return fmt.Errorf("requesting location permission: %w", err)
		}
		return ErrPermissionDenied
	}

	p.mu.Lock()
	p.state = StateRunning
	p.lastAcceptedAt = time.Time{}
	p.hasAccepted = false
	p.prev = nil
	p.quit = make(chan struct{})
	p.done = make(chan struct{})
	quit, done := p.quit, p.done
	p.mu.Unlock()

	go p.run(quit, done)

	log.WithField("subject_id", p.subjectID).Info("Telemetry publishing started")
	return nil
}

func (p *Publisher) run(quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case sample, ok := <-p.source.Samples():
			if !ok {
				return
			}
			p.handle(sample)
		case <-quit:
			return
		}
	}
}

// handle applies the throttle and, on acceptance, derives speed and upserts
// the status row.
func (p *Publisher) handle(sample models.PositionSample) {
	if !sample.HasValidCoordinates() {
		log.WithFields(log.Fields{
			"subject_id": p.subjectID,
			"lat":        sample.Latitude,
			"lng":        sample.Longitude,
		}).Debug("Dropping sample with invalid coordinates")
		return
	}
	sample = sample.Sanitize()

	now := p.now()

	p.mu.Lock()
	if p.hasAccepted && now.Sub(p.lastAcceptedAt) < p.minInterval {
		// Throttled: keep it as "previous" for fallback-speed continuity,
		// but do not write.
		p.prev = &sample
		p.mu.Unlock()
		return
	}

	speed := sample.SpeedMps
	if speed == nil && p.prev != nil {
		speed = geo.FallbackSpeedMps(
			p.prev.Latitude, p.prev.Longitude, p.prev.CapturedAt,
			sample.Latitude, sample.Longitude, sample.CapturedAt,
		)
	}

	// Staleness is keyed off publication recency, not sensor capture time,
	// so a skewed sensor clock cannot penalize the subject.
	row := models.SubjectStatus{
		SubjectID:      p.subjectID,
		Mode:           models.ModeDriver,
		LastLat:        sample.Latitude,
		LastLng:        sample.Longitude,
		LastLocationAt: now,
		LastSpeedMps:   speed,
		LastHeadingDeg: sample.HeadingDeg,
		LastAccuracyM:  sample.AccuracyM,
		LastAltitudeM:  sample.AltitudeM,
		CapturedAt:     sample.CapturedAt,
		UpdatedAt:      now,
	}

	p.prev = &sample
	p.lastAcceptedAt = now
	p.hasAccepted = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A failed write is logged and swallowed: continuous resumption matters
	// more than any single point, and the throttle already rate-limits the
	// retry that the next accepted sample represents.
	if err := p.store.UpsertStatus(ctx, row); err != nil {
		log.WithError(err).WithField("subject_id", p.subjectID).Warn("Status upsert failed")
		return
	}

	if p.notifier != nil {
		if err := p.notifier.Publish(notify.StatusTopic(p.subjectID), notify.EventUpdate, row); err != nil {
			log.WithError(err).WithField("subject_id", p.subjectID).Warn("Change event publish failed")
		}
	}
}

// Stop unsubscribes from the position stream and waits for the consuming
// goroutine to finish, so no callback can fire after it returns. When
// setModeOnStop is true the subject's row is flipped to contact mode; the
// flip is opt-in so transient lifecycle stops do not mark a subject as
// not-driving.
func (p *Publisher) Stop(ctx context.Context, setModeOnStop bool) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopped
	quit, done := p.quit, p.done
	p.mu.Unlock()

	p.source.Stop()
	close(quit)
	<-done

	log.WithField("subject_id", p.subjectID).Info("Telemetry publishing stopped")

	if !setModeOnStop {
		return nil
	}
	if err := p.store.SetMode(ctx, p.subjectID, models.ModeContact); err != nil {
		return fmt.Errorf("setting mode on stop: %w", err)
	}
	if p.notifier != nil {
		patch := models.StatusPatch{Mode: modePtr(models.ModeContact)}
		if err := p.notifier.Publish(notify.StatusTopic(p.subjectID), notify.EventUpdate, patch); err != nil {
			log.WithError(err).WithField("subject_id", p.subjectID).Warn("Change event publish failed")
		}
	}
	return nil
}

func modePtr(m models.Mode) *models.Mode { return &m }
