package facade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/preesu/boardd/internal/board"
	"github.com/preesu/boardd/internal/config"
	"github.com/preesu/boardd/internal/events"
	"github.com/preesu/boardd/internal/system"
	"github.com/preesu/boardd/internal/wifi"
	"github.com/sirupsen/logrus"
)

// Facade defines the interface for interacting with all subsystems.
type Facade interface {
	Pulse(ctx context.Context, output int, d time.Duration) (board.OutputState, error)
	SetOutput(ctx context.Context, output int, action board.Action) (board.OutputState, error)
	ReadStatus(ctx context.Context) (board.Status, error)
	ResetConfig(ctx context.Context, level int) error
	WifiScan(ctx context.Context) ([]wifi.ScanResult, error)
	SetupSTA(ctx context.Context, sta json.RawMessage) error
	ResetGSM(ctx context.Context) error
	RequestTelemetry(ctx context.Context) error
	RequestAttribute(ctx context.Context, attrType int) error
}

// Restarter schedules a device restart.
type Restarter interface {
	RestartAfter(d time.Duration)
}

// facadeImpl implements the Facade interface.
type facadeImpl struct {
	board     *board.Controller
	store     *config.Store
	wifi      wifi.Manager
	restarter Restarter
	sched     system.Scheduler
	bus       *events.Bus
	logger    *logrus.Entry
}

// NewFacade creates a new Facade instance.
func NewFacade(b *board.Controller, store *config.Store, wm wifi.Manager, restarter Restarter, sched system.Scheduler, bus *events.Bus, logger *logrus.Entry) Facade {
	return &facadeImpl{
		board:     b,
		store:     store,
		wifi:      wm,
		restarter: restarter,
		sched:     sched,
		bus:       bus,
		logger:    logger,
	}
}

func (f *facadeImpl) Pulse(ctx context.Context, output int, d time.Duration) (board.OutputState, error) {
	return f.board.Pulse(ctx, output, d)
}

func (f *facadeImpl) SetOutput(ctx context.Context, output int, action board.Action) (board.OutputState, error) {
	return f.board.SetOutput(ctx, output, action)
}

func (f *facadeImpl) ReadStatus(ctx context.Context) (board.Status, error) {
	return f.board.ReadStatus(ctx)
}

// ResetConfig drops persisted levels from level upwards and restarts. A
// failure to delete a level file is logged; the restart still happens.
func (f *facadeImpl) ResetConfig(ctx context.Context, level int) error {
	f.logger.Infof("Facade: Resetting config, level %d", level)
	if err := f.store.Reset(level); err != nil {
		f.logger.Errorf("Facade: Config reset failed: %v", err)
	}
	f.restarter.RestartAfter(f.store.Get().System.RestartDelay())
	return nil
}

func (f *facadeImpl) WifiScan(ctx context.Context) ([]wifi.ScanResult, error) {
	f.logger.Info("Facade: Scanning WiFi")
	return f.wifi.Scan(ctx)
}

// SetupSTA merges the station settings into the user level, turns the
// access point off and restarts into station mode.
func (f *facadeImpl) SetupSTA(ctx context.Context, sta json.RawMessage) error {
	err := f.store.Update(config.LevelUser, func(c *config.Config) error {
		if err := config.MergeSTA(&c.WiFi.STA, sta); err != nil {
			return err
		}
		c.WiFi.AP.Enable = false
		return nil
	})
	if err != nil {
		f.logger.Errorf("Facade: WiFi STA setup failed: %v", err)
		return err
	}
	f.logger.Info("Facade: WiFi STA setup success")
	f.restarter.RestartAfter(f.store.Get().System.RestartDelay())
	return nil
}

// ResetGSM asks the modem to disconnect now and reconnect after the
// configured delay.
func (f *facadeImpl) ResetGSM(ctx context.Context) error {
	delay := f.store.Get().GSM.ReconnectDelay()
	f.logger.Infof("Facade: GSM reconnect in %s", delay)
	f.bus.Trigger(events.Event{Kind: events.GSMDisconnect})
	f.sched.SetTimer(delay, func() {
		f.bus.Trigger(events.Event{Kind: events.GSMConnect})
	})
	return nil
}

func (f *facadeImpl) RequestTelemetry(ctx context.Context) error {
	f.bus.Trigger(events.Event{Kind: events.TelemetryRequested})
	return nil
}

func (f *facadeImpl) RequestAttribute(ctx context.Context, attrType int) error {
	f.bus.Trigger(events.Event{Kind: events.AttributeRequested, Attribute: attrType})
	return nil
}
