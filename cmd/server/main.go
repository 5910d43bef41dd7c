package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/mux"
	"github.com/preesu/boardd/internal/board"
	"github.com/preesu/boardd/internal/config"
	"github.com/preesu/boardd/internal/events"
	"github.com/preesu/boardd/internal/facade"
	"github.com/preesu/boardd/internal/gpio"
	"github.com/preesu/boardd/internal/loop"
	"github.com/preesu/boardd/internal/mqtt"
	"github.com/preesu/boardd/internal/rpc"
	"github.com/preesu/boardd/internal/system"
	"github.com/preesu/boardd/internal/websocket"
	"github.com/preesu/boardd/internal/wifi"
	"github.com/sirupsen/logrus"
)

const (
	ShutdownTimeout = 15 * time.Second
	EventQueueLen   = 64
)

func main() {
	os.Exit(run())
}

// run returns the process exit status once the server has stopped.
func run() int {
	configDir := flag.String("config", "/etc/boardd", "directory holding conf1.yaml..conf9.yaml")
	addr := flag.String("addr", "", "listen address, overrides rpc.addr")
	flag.Parse()

	// Initialize Logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logEntry := logger.WithField("component", "main")

	store := config.NewStore(*configDir, logger.WithField("component", "config"))
	if err := store.Load(); err != nil {
		logEntry.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := store.Get()
	if *addr != "" {
		cfg.RPC.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		logEntry.Fatalf("Invalid configuration: %v", err)
	}
	configureLogger(logger, cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event loop and bus
	l := loop.New()
	bus := events.NewBus(EventQueueLen)
	go l.Run(ctx)

	restarter := system.NewRestarter(l, cancel, logger.WithField("component", "system"))
	runner := system.NewCommandRunner(logger.WithField("component", "exec"))
	wm := wifi.NewNMCLI(cfg.WiFi.NMCLI, runner, logger.WithField("component", "wifi"))

	srv := rpc.NewServer(cfg.Device.ID, logger.WithField("component", "rpc"))

	var ctrl *board.Controller
	if cfg.Board.Enable {
		drv, err := gpio.Open(cfg.Board.Driver, cfg.Board.Chip, logger.WithField("component", "gpio"))
		if err != nil {
			logEntry.Fatalf("Failed to open GPIO: %v", err)
		}
		defer drv.Close()

		ctrl = board.NewController(board.Pins{
			Inputs:  cfg.Board.Inputs(),
			Outputs: cfg.Board.Outputs(),
		}, drv, l, bus, logger.WithField("component", "board"))
		if err := ctrl.Init(); err != nil {
			logEntry.Fatalf("Failed to initialize board: %v", err)
		}
		if cfg.Board.PollInterval() > 0 {
			go ctrl.Monitor(ctx, cfg.Board.PollInterval(), cfg.Board.Debounce())
		}

		f := facade.NewFacade(ctrl, store, wm, restarter, l, bus, logger.WithField("component", "facade"))
		facade.RegisterRPC(srv, f)
	} else {
		logEntry.Warn("Board disabled, Device methods are not registered")
	}

	if cfg.WiFi.STA.Enable && cfg.WiFi.STA.SSID != "" {
		go func() {
			if err := wm.Connect(ctx, cfg.WiFi.STA.SSID, cfg.WiFi.STA.Pass); err != nil {
				logEntry.Errorf("WiFi station connect failed: %v", err)
			}
		}()
	}

	// WebSocket clients get every event
	wsManager := websocket.NewWebSocketManager(srv, logger.WithField("component", "websocket"))
	wsSub := bus.Subscribe()
	defer wsSub.Close()
	go wsManager.Run(ctx, wsSub)

	if cfg.MQTT.Enable {
		startMQTT(ctx, cfg, srv, ctrl, bus, logger.WithField("component", "mqtt"))
	}

	// Setup Router
	r := mux.NewRouter()
	r.Use(rpc.BasicAuth(cfg.RPC.AuthUser, cfg.RPC.AuthHash))
	srv.RegisterHTTP(r)
	r.HandleFunc("/ws", wsManager.HandleWebSocket).Methods("GET")

	// Create Server
	httpSrv := &http.Server{
		Handler:      r,
		Addr:         cfg.RPC.Addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer wg.Done()
		logEntry.Infof("Server is running on %s", cfg.RPC.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logEntry.Fatalf("Server failed: %v", err)
		}
	}()

	// Block until a signal or a restart request
	select {
	case sig := <-stop:
		logEntry.Infof("Received %s, shutting down...", sig)
	case <-restarter.Requested():
		logEntry.Info("Restart requested, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logEntry.Errorf("Server forced to shutdown: %v", err)
	}

	cancel()
	<-l.Done()
	wg.Wait()

	select {
	case <-restarter.Requested():
		logEntry.Info("Server exited for restart")
		return system.ExitRestart
	default:
		logEntry.Info("Server exited gracefully")
		return 0
	}
}

func configureLogger(logger *logrus.Logger, cfg config.LogConfig) {
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// startMQTT connects the broker bridge. Subscriptions are made from the
// connect handler so they are restored after a reconnect.
func startMQTT(ctx context.Context, cfg config.Config, srv *rpc.Server, ctrl *board.Controller, bus *events.Bus, logger *logrus.Entry) {
	var status mqtt.StatusReader
	if ctrl != nil {
		status = ctrl
	}

	var bridge *mqtt.Bridge
	ready := make(chan struct{})
	client, err := mqtt.Connect(cfg.MQTT, cfg.Device.ID, func(c paho.Client) {
		<-ready
		if err := bridge.Subscribe(ctx); err != nil {
			logger.Errorf("MQTT subscribe failed: %v", err)
		}
	}, logger)
	if err != nil {
		logger.Errorf("MQTT disabled: %v", err)
		return
	}
	bridge = mqtt.NewBridge(client, cfg.MQTT.TopicPrefix, srv, status, logger)
	close(ready)

	sub := bus.Subscribe()
	go func() {
		defer sub.Close()
		bridge.Run(ctx, sub)
		client.Disconnect(250)
	}()
}
