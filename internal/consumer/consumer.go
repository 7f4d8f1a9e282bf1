// Package consumer maintains the dashboard's view of every subject an
// observer may track, keeping it correct under full reloads, per-subject
// realtime patches, and pure time passage.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wakeguard/companion/internal/db"
	"github.com/wakeguard/companion/internal/liveness"
	"github.com/wakeguard/companion/internal/models"
	"github.com/wakeguard/companion/internal/notify"
)

// Dashboard status labels derived from the freshest non-expired warning.
const (
	StatusSafe    = "safe"
	StatusWarning = "warning"
	StatusDanger  = "danger"
)

// DefaultEvalTick is the period of the time-only liveness re-evaluation.
const DefaultEvalTick = 5 * time.Second

// maxTrailPoints bounds the retained route history per subject.
const maxTrailPoints = 20

// Badges are the observer's aggregate counts. Both degrade to zero, never to
// an error state, when identity lookup fails.
type Badges struct {
	PendingLinks   int64 `json:"pending_links"`
	UnreadWarnings int64 `json:"unread_warnings"`
}

// TrackedSubject is the consumer-owned projection of one subject. Values
// returned by Snapshot are copies; mutating them has no effect.
type TrackedSubject struct {
	SubjectID        string         `json:"subject_id"`
	DisplayName      string         `json:"display_name"`
	AvatarURL        string         `json:"avatar_url,omitempty"`
	Mode             models.Mode    `json:"mode"`
	Lat              float64        `json:"lat"`
	Lng              float64        `json:"lng"`
	Trail            []models.LatLng `json:"trail,omitempty"`
	LastLocationAt   time.Time      `json:"last_location_at"`
	SpeedMps         *float64       `json:"speed_mps,omitempty"`
	HeadingDeg       *float64       `json:"heading_deg,omitempty"`
	WarningLevel     int            `json:"warning_level"`
	WarningCreatedAt time.Time      `json:"warning_created_at"`
	Live             bool           `json:"live"`
}

// Identity resolves the current observer. An error means "no data", not a
// failure: the tracked set and badges degrade to empty.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// SubscribeBroker is the slice of the notification collaborator the consumer
// needs.
type SubscribeBroker interface {
	Subscribe(topic string, fn func(notify.Envelope)) (*notify.Subscription, error)
}

// Deps are the external collaborators of a consumer instance.
type Deps struct {
	Identity Identity
	Links    db.LinkCollection
	Users    db.UserCollection
	Statuses db.StatusCollection
	Warnings db.WarningCollection
	Broker   SubscribeBroker
}

// Options tunes a consumer instance.
type Options struct {
	LocationWindow time.Duration
	WarningWindow  time.Duration
	EvalTick       time.Duration
}

// Consumer owns the in-memory tracked-subject map for one observer. All
// mutation happens under one mutex; asynchronous sources (realtime patches,
// the tick, reloads) interleave but never partially overlap.
type Consumer struct {
	deps Deps

	locationWindow time.Duration
	warningWindow  time.Duration
	tick           time.Duration
	now            func() time.Time

	mu         sync.RWMutex
	observerID string
	subjects   map[string]*TrackedSubject
	badges     Badges
	focused    *notify.Subscription
	badgeSubs  []*notify.Subscription
	attached   bool
	closed     bool
	quit       chan struct{}
	done       chan struct{}
}

// New creates a detached consumer. Call Attach to load the tracked set and
// start the re-evaluation tick.
func New(deps Deps, opts Options) *Consumer {
	if opts.LocationWindow <= 0 {
		opts.LocationWindow = liveness.DefaultLocationWindow
	}
	if opts.WarningWindow <= 0 {
		opts.WarningWindow = liveness.DefaultWarningWindow
	}
	if opts.EvalTick <= 0 {
		opts.EvalTick = DefaultEvalTick
	}
	return &Consumer{
		deps:           deps,
		locationWindow: opts.LocationWindow,
		warningWindow:  opts.WarningWindow,
		tick:           opts.EvalTick,
		now:            time.Now,
		subjects:       map[string]*TrackedSubject{},
	}
}

// Attach performs the initial full reload, starts the liveness tick, and
// establishes the badge subscriptions. Subscription setup failures are logged
// and the consumer falls back to reload-only operation.
func (c *Consumer) Attach(ctx context.Context) error {
	c.mu.Lock()
	if c.attached || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.attached = true
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	quit, done := c.quit, c.done
	c.mu.Unlock()

	if err := c.Reload(ctx); err != nil {
		log.WithError(err).Warn("Initial reload failed")
	}
	c.RecomputeBadges(ctx)
	c.subscribeBadges(ctx)

	go c.loop(quit, done)
	return nil
}

func (c *Consumer) loop(quit, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// No fetch: a subject with no new telemetry must still turn
			// stale once its freshness window elapses.
			c.evaluate()
		case <-quit:
			return
		}
	}
}

// Reload recomputes the whole tracked set from the relationship list and
// swaps it in atomically: a concurrent Snapshot sees either the old complete
// set or the new one, never a partial state. On a storage error the previous
// set is kept intact.
func (c *Consumer) Reload(ctx context.Context) error {
	observerID, err := c.deps.Identity.CurrentUserID(ctx)
	if err != nil {
		// IdentityMissing: "no data", not an error.
		log.WithError(err).Debug("No observer identity, clearing tracked set")
		c.mu.Lock()
		c.observerID = ""
		c.subjects = map[string]*TrackedSubject{}
		c.badges = Badges{}
		c.mu.Unlock()
		return nil
	}

	links, err := c.deps.Links.AcceptedLinks(ctx, observerID)
	if err != nil {
		return fmt.Errorf("loading accepted links: %w", err)
	}

	subjectIDs := make([]string, 0, len(links))
	for _, l := range links {
		subjectIDs = append(subjectIDs, l.SubjectID)
	}

	users, err := c.deps.Users.FindUsersByIDs(ctx, subjectIDs)
	if err != nil {
		return fmt.Errorf("loading subject profiles: %w", err)
	}
	statuses, err := c.deps.Statuses.FindStatuses(ctx, subjectIDs)
	if err != nil {
		return fmt.Errorf("loading subject statuses: %w", err)
	}
	warnings, err := c.deps.Warnings.LatestWarnings(ctx, subjectIDs)
	if err != nil {
		return fmt.Errorf("loading latest warnings: %w", err)
	}

	statusByID := make(map[string]models.SubjectStatus, len(statuses))
	for _, s := range statuses {
		statusByID[s.SubjectID] = s
	}

	now := c.now()
	fresh := make(map[string]*TrackedSubject, len(subjectIDs))
	for _, id := range subjectIDs {
		ts := &TrackedSubject{SubjectID: id, Mode: models.ModeContact}
		if u, ok := users[id]; ok {
			ts.DisplayName = u.DisplayName
			ts.AvatarURL = u.AvatarURL
		}
		if st, ok := statusByID[id]; ok {
			ts.Mode = st.Mode
			ts.Lat = st.LastLat
			ts.Lng = st.LastLng
			ts.LastLocationAt = st.LastLocationAt
			ts.SpeedMps = st.LastSpeedMps
			ts.HeadingDeg = st.LastHeadingDeg
			ts.Trail = []models.LatLng{{Lat: st.LastLat, Lng: st.LastLng}}
		}
		if w, ok := warnings[id]; ok {
			ts.WarningLevel = w.Level
			ts.WarningCreatedAt = w.CreatedAt
		}
		ts.Live = liveness.LiveAt(now, ts.Mode, ts.LastLocationAt, c.locationWindow)
		fresh[id] = ts
	}

	c.mu.Lock()
	c.observerID = observerID
	c.subjects = fresh
	c.mu.Unlock()
	return nil
}

// Snapshot returns a read-only copy of the tracked set, sorted by display
// name then subject id.
func (c *Consumer) Snapshot() []TrackedSubject {
	c.mu.RLock()
	out := make([]TrackedSubject, 0, len(c.subjects))
	for _, s := range c.subjects {
		cp := *s
		cp.Trail = append([]models.LatLng(nil), s.Trail...)
		out = append(out, cp)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	return out
}

// Badges returns the current aggregate counts.
func (c *Consumer) Badges() Badges {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.badges
}

// IsLive reports whether the subject's last state should render as live.
func (c *Consumer) IsLive(s TrackedSubject) bool {
	return liveness.LiveAt(c.now(), s.Mode, s.LastLocationAt, c.locationWindow)
}

// HasActiveWarning reports whether the subject's latest warning is still
// inside the warning-freshness window.
func (c *Consumer) HasActiveWarning(s TrackedSubject) bool {
	return s.WarningLevel >= models.WarningLevelDrowsy &&
		liveness.FreshAt(c.now(), s.WarningCreatedAt, c.warningWindow)
}

// StatusLabel derives the dashboard status from the freshest non-expired
// warning: level 3 is danger, level 2 is warning, anything else is safe.
func (c *Consumer) StatusLabel(s TrackedSubject) string {
	if !c.HasActiveWarning(s) {
		return StatusSafe
	}
	if s.WarningLevel >= models.WarningLevelCritical {
		return StatusDanger
	}
	return StatusWarning
}

// SubscribeToSubject focuses realtime patches on one subject, for a detail
// view. Any previously focused subscription is torn down first: at most one
// handle is live per consumer. A setup failure is logged and the consumer
// silently falls back to reload-only behavior.
func (c *Consumer) SubscribeToSubject(subjectID string) {
	c.mu.Lock()
	prev := c.focused
	c.focused = nil
	closed := c.closed
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	if closed {
		return
	}

	sub, err := c.deps.Broker.Subscribe(notify.StatusTopic(subjectID), func(env notify.Envelope) {
		c.applyPatch(subjectID, env)
	})
	if err != nil {
		log.WithError(err).WithField("subject_id", subjectID).Warn("Realtime subscription setup failed")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return
	}
	c.focused = sub
	c.mu.Unlock()
}

// Unsubscribe tears down the focused subscription, if any. Idempotent.
func (c *Consumer) Unsubscribe() {
	c.mu.Lock()
	prev := c.focused
	c.focused = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// applyPatch merges a partial status update into the existing projection.
// Fields absent from the patch are left untouched.
func (c *Consumer) applyPatch(subjectID string, env notify.Envelope) {
	if env.EventType == notify.EventDelete || len(env.NewRow) == 0 {
		return
	}
	var patch models.StatusPatch
	if err := json.Unmarshal(env.NewRow, &patch); err != nil {
		log.WithError(err).WithField("subject_id", subjectID).Warn("Dropping malformed status patch")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.subjects[subjectID]
	if !ok {
		return
	}
	if patch.Mode != nil {
		s.Mode = *patch.Mode
	}
	if patch.LastLat != nil {
		s.Lat = *patch.LastLat
	}
	if patch.LastLng != nil {
		s.Lng = *patch.LastLng
	}
	if patch.LastLat != nil || patch.LastLng != nil {
		point := models.LatLng{Lat: s.Lat, Lng: s.Lng}
		if n := len(s.Trail); n == 0 || s.Trail[n-1] != point {
			s.Trail = append(s.Trail, point)
			if len(s.Trail) > maxTrailPoints {
				s.Trail = s.Trail[len(s.Trail)-maxTrailPoints:]
			}
		}
	}
	if patch.LastLocationAt != nil {
		s.LastLocationAt = *patch.LastLocationAt
	}
	if patch.LastSpeedMps != nil {
		s.SpeedMps = patch.LastSpeedMps
	}
	if patch.LastHeadingDeg != nil {
		s.HeadingDeg = patch.LastHeadingDeg
	}
	s.Live = liveness.LiveAt(c.now(), s.Mode, s.LastLocationAt, c.locationWindow)
}

// evaluate recomputes the live flag for every tracked subject against the
// current wall clock, with no fetch.
func (c *Consumer) evaluate() {
	now := c.now()
	c.mu.Lock()
	for _, s := range c.subjects {
		s.Live = liveness.LiveAt(now, s.Mode, s.LastLocationAt, c.locationWindow)
	}
	c.mu.Unlock()
}

// RecomputeBadges re-queries the count-only aggregates. Identity failure
// degrades both counts to zero.
func (c *Consumer) RecomputeBadges(ctx context.Context) {
	observerID, err := c.deps.Identity.CurrentUserID(ctx)
	if err != nil {
		c.mu.Lock()
		c.badges = Badges{}
		c.mu.Unlock()
		return
	}

	pending, err := c.deps.Links.CountPending(ctx, observerID)
	if err != nil {
		log.WithError(err).Warn("Pending-link count failed")
		pending = 0
	}

	c.mu.RLock()
	subjectIDs := make([]string, 0, len(c.subjects))
	for id := range c.subjects {
		subjectIDs = append(subjectIDs, id)
	}
	c.mu.RUnlock()

	unread, err := c.deps.Warnings.CountUnacknowledged(ctx, subjectIDs)
	if err != nil {
		log.WithError(err).Warn("Unread-warning count failed")
		unread = 0
	}

	c.mu.Lock()
	c.badges = Badges{PendingLinks: pending, UnreadWarnings: unread}
	c.mu.Unlock()
}

// subscribeBadges wires the two observer-scoped change streams that keep the
// badge counts current. Either failing leaves the counts reload-driven.
func (c *Consumer) subscribeBadges(ctx context.Context) {
	c.mu.RLock()
	observerID := c.observerID
	c.mu.RUnlock()
	if observerID == "" {
		return
	}

	linkSub, err := c.deps.Broker.Subscribe(notify.LinkTopic(observerID), func(env notify.Envelope) {
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Reload(bg); err != nil {
			log.WithError(err).Warn("Reload after link change failed")
		}
		c.RecomputeBadges(bg)
	})
	if err != nil {
		log.WithError(err).Warn("Link subscription setup failed")
	}

	warnSub, err := c.deps.Broker.Subscribe(notify.WarningTopicWildcard, func(env notify.Envelope) {
		c.applyWarning(env)
		bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.RecomputeBadges(bg)
	})
	if err != nil {
		log.WithError(err).Warn("Warning subscription setup failed")
	}

	c.mu.Lock()
	if linkSub != nil {
		c.badgeSubs = append(c.badgeSubs, linkSub)
	}
	if warnSub != nil {
		c.badgeSubs = append(c.badgeSubs, warnSub)
	}
	c.mu.Unlock()
}

// applyWarning folds a freshly inserted warning into the projection of the
// subject it concerns, if tracked.
func (c *Consumer) applyWarning(env notify.Envelope) {
	if env.EventType != notify.EventInsert || len(env.NewRow) == 0 {
		return
	}
	var w models.WarningEvent
	if err := json.Unmarshal(env.NewRow, &w); err != nil {
		log.WithError(err).Warn("Dropping malformed warning event")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subjects[w.SubjectID]
	if !ok {
		return
	}
	if w.CreatedAt.After(s.WarningCreatedAt) {
		s.WarningLevel = w.Level
		s.WarningCreatedAt = w.CreatedAt
	}
}

// Close stops the tick and tears down every subscription. After it returns
// no timer or callback can mutate the consumer.
func (c *Consumer) Close() {
	c.mu.Lock()
	if !c.attached || c.closed {
		c.closed = true
		c.mu.Unlock()
		return
	}
	c.closed = true
	quit, done := c.quit, c.done
	focused := c.focused
	c.focused = nil
	badgeSubs := c.badgeSubs
	c.badgeSubs = nil
	c.mu.Unlock()

	close(quit)
	<-done

	if focused != nil {
		focused.Close()
	}
	for _, sub := range badgeSubs {
		sub.Close()
	}
}
