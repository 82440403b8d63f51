package synchronizer

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/message"
	"github.com/c360/twinbridge/metric"
	"github.com/c360/twinbridge/pkg/cache"
	"github.com/c360/twinbridge/twinstore"
)

// Observer message types.
const (
	TypeGridStatus = "grid_status"
	TypeAlert      = "alert"
	TypeHealth     = "health"
	TypeSystem     = "system"
)

// Defaults for Config.
const (
	DefaultCriticalSubject = "criticalAlert"
	DefaultCacheSize       = 1024
	DefaultCacheTTL        = 10 * time.Minute
)

// Store is the subset of the twin store client the synchronizer writes
// through.
type Store interface {
	EnsureGridTwin(ctx context.Context, gridID string) error
	UpsertTwin(ctx context.Context, twin twinstore.Twin) (twinstore.Twin, error)
	GetFeature(ctx context.Context, thingID, featureID string) (twinstore.Feature, error)
	UpdateFeature(ctx context.Context, thingID, featureID string, properties map[string]any) error
	SendMessage(ctx context.Context, thingID, subject string, payload any) error
}

// Publisher forwards reconciled events to observers. Publish must not
// block.
type Publisher interface {
	Publish(msgType, gridID string, payload any)
}

// Config configures a Synchronizer.
type Config struct {
	Namespace       string
	CriticalSubject string
	CacheSize       int
	CacheTTL        time.Duration
}

// Synchronizer applies inbound events to the twin store one at a time.
type Synchronizer struct {
	cfg       Config
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *metric.Metrics
	stats     *Stats
	ensured   *cache.LRU[struct{}]
	now       func() time.Time
}

// New creates a Synchronizer. publisher and registry may be nil.
func New(cfg Config, store Store, publisher Publisher, logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*Synchronizer, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "synchronizer", "New", "require store")
	}
	if cfg.Namespace == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "synchronizer", "New", "require namespace")
	}
	if cfg.CriticalSubject == "" {
		cfg.CriticalSubject = DefaultCriticalSubject
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	ensured, err := cache.NewLRU(cfg.CacheSize,
		cache.WithTTL[struct{}](cfg.CacheTTL),
		cache.WithMetrics[struct{}](registry, "ensured_twins"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "synchronizer", "New", "create ensured-twin cache")
	}

	s := &Synchronizer{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "synchronizer"),
		ensured:   ensured,
		now:       time.Now,
	}
	s.stats = NewStats(s.now())

	if registry != nil {
		s.metrics = registry.CoreMetrics()
		if err := registerStats(registry, s.stats); err != nil {
			return nil, errors.Wrap(err, "synchronizer", "New", "register stats metrics")
		}
	}
	return s, nil
}

// Stats returns the live counters.
func (s *Synchronizer) Stats() *Stats {
	return s.stats
}

// Handle processes one event. Failures are counted and logged; Handle never
// returns an error so that one bad event cannot stall the queue.
func (s *Synchronizer) Handle(ctx context.Context, ev message.InboundEvent) {
	s.stats.received.Add(1)

	status := "ok"
	if err := s.process(ctx, ev); err != nil {
		status = "error"
		s.stats.errors.Add(1)
		s.logger.Error("Failed to sync event",
			"kind", ev.Kind.String(),
			"grid_id", ev.GridID,
			"topic", ev.Topic,
			"error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordEventProcessed(ev.Kind.String(), status)
	}
}

func (s *Synchronizer) process(ctx context.Context, ev message.InboundEvent) error {
	if ev.IsSystem() || ev.Kind == message.KindUnclassified {
		s.publish(TypeSystem, ev.GridID, ev.Fields)
		return nil
	}

	if err := s.ensure(ctx, ev.GridID); err != nil {
		return err
	}

	switch ev.Kind {
	case message.KindStatus:
		return s.syncStatus(ctx, ev)
	case message.KindAlert:
		return s.syncAlert(ctx, ev)
	case message.KindHealth:
		return s.syncHealth(ctx, ev)
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown kind %d", ev.Kind), "synchronizer", "process", "dispatch event")
	}
}

func (s *Synchronizer) syncStatus(ctx context.Context, ev message.InboundEvent) error {
	twin := statusTwin(s.cfg.Namespace, ev.GridID, ev.Status, s.now())
	if _, err := s.store.UpsertTwin(ctx, twin); err != nil {
		s.forgetIfMissing(ev.GridID, err)
		return errors.Wrap(err, "synchronizer", "syncStatus", "upsert twin "+twin.ThingID)
	}

	s.stats.sent.Add(1)
	s.logger.Debug("Synced grid status", "thing_id", twin.ThingID)
	s.publish(TypeGridStatus, ev.GridID, ev.Fields)
	return nil
}

func (s *Synchronizer) syncAlert(ctx context.Context, ev message.InboundEvent) error {
	thingID := twinstore.ThingID(s.cfg.Namespace, ev.GridID)

	previous := map[string]any{}
	feature, err := s.store.GetFeature(ctx, thingID, twinstore.FeatureAlerts)
	switch {
	case err == nil:
		previous = feature.Properties
	case stderrors.Is(err, twinstore.ErrNotFound):
	default:
		return errors.Wrap(err, "synchronizer", "syncAlert", "read alert count of "+thingID)
	}

	// A redelivered alert carries the id already recorded as latest.
	if isRepeat(previous, ev.Alert) {
		s.logger.Debug("Ignoring repeated alert", "thing_id", thingID, "alert_id", ev.Alert.ID)
		return nil
	}

	props := alertProperties(previous, ev, s.now())
	if err := s.store.UpdateFeature(ctx, thingID, twinstore.FeatureAlerts, props); err != nil {
		s.forgetIfMissing(ev.GridID, err)
		return errors.Wrap(err, "synchronizer", "syncAlert", "update alerts of "+thingID)
	}
	s.stats.sent.Add(1)

	if ev.Alert.IsCritical() {
		s.escalate(ctx, thingID, ev)
	}

	s.publish(TypeAlert, ev.GridID, ev.Fields)
	return nil
}

// escalate sends the critical alert inbox message. Its failure leaves the
// alerts feature as written.
func (s *Synchronizer) escalate(ctx context.Context, thingID string, ev message.InboundEvent) {
	correlationID := uuid.NewString()
	payload := map[string]any{
		"correlationId": correlationID,
		"gridId":        ev.GridID,
		"alert":         ev.Fields,
	}
	if err := s.store.SendMessage(ctx, thingID, s.cfg.CriticalSubject, payload); err != nil {
		s.stats.errors.Add(1)
		s.logger.Error("Failed to send critical alert message",
			"thing_id", thingID,
			"correlation_id", correlationID,
			"error", err)
		return
	}
	s.logger.Info("Escalated critical alert", "thing_id", thingID, "correlation_id", correlationID)
}

func (s *Synchronizer) syncHealth(ctx context.Context, ev message.InboundEvent) error {
	thingID := twinstore.ThingID(s.cfg.Namespace, ev.GridID)
	props := healthProperties(ev.Health, s.now())
	if err := s.store.UpdateFeature(ctx, thingID, twinstore.FeatureDeviceHealth, props); err != nil {
		s.forgetIfMissing(ev.GridID, err)
		return errors.Wrap(err, "synchronizer", "syncHealth", "update device health of "+thingID)
	}

	s.stats.sent.Add(1)
	s.publish(TypeHealth, ev.GridID, ev.Fields)
	return nil
}

func (s *Synchronizer) ensure(ctx context.Context, gridID string) error {
	if _, ok := s.ensured.Get(gridID); ok {
		return nil
	}
	if err := s.store.EnsureGridTwin(ctx, gridID); err != nil {
		return errors.Wrap(err, "synchronizer", "ensure", "ensure twin for grid "+gridID)
	}
	if _, err := s.ensured.Set(gridID, struct{}{}); err != nil {
		s.logger.Warn("Failed to remember ensured grid", "grid_id", gridID, "error", err)
	}
	return nil
}

func (s *Synchronizer) forgetIfMissing(gridID string, err error) {
	if stderrors.Is(err, twinstore.ErrNotFound) {
		_, _ = s.ensured.Delete(gridID)
	}
}

func (s *Synchronizer) publish(msgType, gridID string, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(msgType, gridID, payload)
}
