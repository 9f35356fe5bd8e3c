// Package reporter publishes Home Assistant discovery documents for
// every metric and pushes the latest report to the state topic on a
// fixed interval.
package reporter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/system-monitor/internal/config"
	"github.com/nugget/system-monitor/internal/events"
	"github.com/nugget/system-monitor/internal/mqtt"
	"github.com/nugget/system-monitor/internal/report"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// Publisher is the subset of [mqtt.Conn] the reporter needs. Both
// methods must not block.
type Publisher interface {
	Publish(topic string, payload []byte)
	PublishRetained(topic string, payload []byte)
}

// Sensor pairs a metric key with its discovery document.
type Sensor struct {
	Metric string
	Config mqtt.SensorConfig
}

// Reporter owns topic layout and the reporting loop.
type Reporter struct {
	program  string
	clientID string
	prefix   string
	units    config.UnitsConfig
	interval time.Duration
	device   mqtt.DeviceInfo

	store  *report.Store
	logger *slog.Logger
	events *events.Bus
}

// New creates a Reporter. The publisher is passed to each publishing
// method so the reporter can exist before the connection does.
func New(cfg *config.Config, store *report.Store, logger *slog.Logger) *Reporter {
	return &Reporter{
		program:  cfg.ProgramName,
		clientID: cfg.ClientID,
		prefix:   cfg.MQTT.DiscoveryPrefix,
		units:    cfg.Units,
		interval: cfg.Interval(),
		device:   mqtt.NewDeviceInfo(cfg.ProgramName, cfg.ClientID),
		store:    store,
		logger:   logger,
	}
}

// SetEventBus publishes registration and state events to b.
func (r *Reporter) SetEventBus(b *events.Bus) {
	r.events = b
}

// --- Topics ---

// StateTopic carries the full report as one JSON object.
func (r *Reporter) StateTopic() string {
	return r.program + "/" + r.clientID + "/state"
}

// AvailabilityTopic carries "online" or "offline", retained.
func (r *Reporter) AvailabilityTopic() string {
	return r.program + "/" + r.clientID + "/availability"
}

// DiscoveryTopic is where HA looks for the sensor config of metric.
func (r *Reporter) DiscoveryTopic(metric string) string {
	return r.prefix + "/sensor/" + r.clientID + "_" + metric + "/config"
}

// Will is the message the broker publishes when the session dies.
func (r *Reporter) Will() mqtt.Message {
	return mqtt.Message{
		Topic:   r.AvailabilityTopic(),
		Payload: []byte(Offline),
		QoS:     1,
		Retain:  true,
	}
}

// --- Discovery ---

// SensorDefinitions returns one discovery document per metric, in
// payload order.
func (r *Reporter) SensorDefinitions() []Sensor {
	mem := r.units.Memory.String()
	storage := r.units.Storage.String()
	rate := r.units.Network.RateString()

	sensor := func(metric, unit, deviceClass, stateClass, icon string) Sensor {
		return Sensor{
			Metric: metric,
			Config: mqtt.SensorConfig{
				Name:              strings.ReplaceAll(metric, "_", " "),
				UniqueID:          r.clientID + "_" + metric,
				StateTopic:        r.StateTopic(),
				AvailabilityTopic: r.AvailabilityTopic(),
				Device:            r.device,
				Icon:              icon,
				DeviceClass:       deviceClass,
				UnitOfMeasurement: unit,
				StateClass:        stateClass,
				ValueTemplate:     "{{ value_json." + metric + " }}",
			},
		}
	}

	return []Sensor{
		sensor(report.RAMTotal, mem, "data_size", "total", "mdi:memory"),
		sensor(report.RAMUsage, mem, "data_size", "total", "mdi:memory"),
		sensor(report.DiskTotal, storage, "data_size", "total", "mdi:harddisk"),
		sensor(report.DiskUsage, storage, "data_size", "total", "mdi:harddisk"),
		sensor(report.CPUUsage, "%", "", "measurement", "mdi:cpu-64-bit"),
		sensor(report.NetworkRx, rate, "data_rate", "measurement", "mdi:download-network"),
		sensor(report.NetworkTx, rate, "data_rate", "measurement", "mdi:upload-network"),
	}
}

// Register publishes every discovery document, retained, and returns
// how many were queued. Publishing the same documents again is harmless,
// so it runs on every connect.
func (r *Reporter) Register(pub Publisher) int {
	queued := 0
	for _, s := range r.SensorDefinitions() {
		payload, err := json.Marshal(s.Config)
		if err != nil {
			r.logger.Error("marshal discovery payload", "metric", s.Metric, "error", err)
			continue
		}
		pub.PublishRetained(r.DiscoveryTopic(s.Metric), payload)
		queued++
	}
	r.logger.Debug("discovery documents queued", "sensors", queued)
	r.events.Emit(events.SourceReporter, events.KindRegistered,
		map[string]any{"sensors": queued})
	return queued
}

// Announce registers discovery and marks the device online. It runs on
// every broker connect.
func (r *Reporter) Announce(pub Publisher) {
	r.Register(pub)
	pub.PublishRetained(r.AvailabilityTopic(), []byte(Online))
}

// --- State loop ---

// PublishOnce publishes the latest report. It returns false without
// publishing when no report has been stored yet.
func (r *Reporter) PublishOnce(pub Publisher) bool {
	entry, ok := r.store.Latest()
	if !ok {
		return false
	}
	pub.Publish(r.StateTopic(), entry.Report.JSON())
	r.logger.Log(context.Background(), config.LevelTrace, "state queued",
		"topic", r.StateTopic(), "sampled_at", entry.Timestamp)
	r.events.Emit(events.SourceReporter, events.KindStatePublished,
		map[string]any{"topic": r.StateTopic(), "sampled_at": entry.Timestamp})
	return true
}

// Run publishes the latest report on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context, pub Publisher) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reporting loop started",
		"state_topic", r.StateTopic(), "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.PublishOnce(pub)
		}
	}
}
