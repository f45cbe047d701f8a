// Command relay-controller drives push-button relay channels on GPIO and
// mirrors their state to MQTT or Signal K.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/relay-controller/internal/channel"
	"github.com/sweeney/relay-controller/internal/config"
	"github.com/sweeney/relay-controller/internal/gpio"
	"github.com/sweeney/relay-controller/internal/logging"
	"github.com/sweeney/relay-controller/internal/logic"
	"github.com/sweeney/relay-controller/internal/metrics"
	"github.com/sweeney/relay-controller/internal/mqtt"
	"github.com/sweeney/relay-controller/internal/reactor"
	"github.com/sweeney/relay-controller/internal/signalk"
	"github.com/sweeney/relay-controller/internal/status"
	"github.com/sweeney/relay-controller/internal/web"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults and RELAY_* env vars apply without one)")
	checkConfig := flag.Bool("check-config", false, "Validate config, print the channel table and exit")

	flag.Parse()

	if err := run(*configPath, *checkConfig); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, checkConfig bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if checkConfig {
		printChannels(os.Stdout, cfg)
		return nil
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	driver, err := gpio.NewRealDriver(cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer driver.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, sys, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	defer tr.Close()

	d, err := newDaemon(cfg, logger, driver, tr, sys, time.Now)
	if err != nil {
		return err
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, web.Options{
			Tracker:   d.tracker,
			Commander: d.asm,
			Gatherer:  d.registry,
			Logger:    logger,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("http shutdown", "error", err)
			}
		}()
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.run(ctx, sigCh)
}

// transport is the telemetry link shared by the MQTT and Signal K clients.
type transport interface {
	channel.Publisher
	channel.CommandSource
	Announce(descs []channel.Descriptor) error
	IsConnected() bool
	Close() error
}

// systemPublisher receives lifecycle events. Only MQTT carries them.
type systemPublisher interface {
	PublishSystem(event mqtt.SystemEvent) error
}

// offline is the transport for transport=none.
type offline struct{}

func (offline) Publish(logic.PublishEvent) error                   { return nil }
func (offline) Subscribe(string, func(logic.RemoteCommand)) error { return nil }
func (offline) Announce([]channel.Descriptor) error               { return nil }
func (offline) IsConnected() bool                                 { return false }
func (offline) Close() error                                      { return nil }

func newTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transport, systemPublisher, error) {
	switch cfg.Transport {
	case config.TransportMQTT:
		c, err := mqtt.NewRealClient(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case config.TransportSignalK:
		c := signalk.New(signalk.Config{
			URL:    cfg.SignalK.URL,
			Token:  cfg.SignalK.Token,
			Source: cfg.Device.Name,
			Logger: logger,
		})
		c.Start(ctx)
		return c, nil, nil
	}
	return offline{}, nil, nil
}

// daemon owns the event loop and everything wired onto it.
type daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	disp     *reactor.Dispatcher
	asm      *channel.Assembler
	tracker  *status.Tracker
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	link     transport
	sys      systemPublisher
}

func newDaemon(cfg *config.Config, logger *slog.Logger, driver gpio.Driver, link transport, sys systemPublisher, now func() time.Time) (*daemon, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		registry: registry,
		link:     link,
		sys:      sys,
	}
	d.disp = reactor.New(
		reactor.WithClock(now),
		reactor.WithLogger(logger),
		reactor.WithPanicHook(m.DispatchPanics.Inc),
	)

	broker := ""
	switch cfg.Transport {
	case config.TransportMQTT:
		broker = cfg.MQTT.Broker
	case config.TransportSignalK:
		broker = cfg.SignalK.URL
	}
	d.tracker = status.NewTracker(now(), status.Config{
		DeviceName:       cfg.Device.Name,
		DebounceMs:       cfg.Debounce.Milliseconds(),
		RepeatIntervalMs: cfg.RepeatInterval.Milliseconds(),
		HeartbeatMs:      cfg.Heartbeat.Milliseconds(),
		Transport:        cfg.Transport,
		Broker:           broker,
		HTTPAddr:         cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		d.tracker.SetNetwork(net)
	}

	var cmds channel.CommandSource
	if cfg.Transport != config.TransportNone {
		cmds = link
	}
	d.asm = channel.NewAssembler(d.disp, driver, channel.Options{
		Debounce:       cfg.Debounce,
		RepeatInterval: cfg.RepeatInterval,
		Publisher:      link,
		Commands:       cmds,
		Metrics:        m,
		Tracker:        d.tracker,
		Logger:         logger,
	})

	descs := cfg.Descriptors()
	if _, err := d.asm.AssembleAll(descs); err != nil {
		return nil, fmt.Errorf("assemble channels: %w", err)
	}
	if err := link.Announce(descs); err != nil {
		logger.Warn("failed to announce channel metadata", "error", err)
	}

	d.disp.Every(time.Second, d.refreshLink)
	if cfg.Heartbeat > 0 {
		d.disp.Every(cfg.Heartbeat, d.heartbeat)
	}
	return d, nil
}

func (d *daemon) refreshLink() {
	d.tracker.SetTransportConnected(d.link.IsConnected())
}

// heartbeat runs on the loop; the publish itself may block, so it is handed
// to a goroutine.
func (d *daemon) heartbeat() {
	d.refreshLink()
	if net := readNetworkInfo(); net != nil {
		d.tracker.SetNetwork(net)
	}
	snap := d.tracker.Snapshot()
	d.logger.Info("heartbeat", "uptime", snap.Uptime().Truncate(time.Second).String(), "connected", snap.TransportConnected)
	if d.sys == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	go func() {
		if err := d.sys.PublishSystem(event); err != nil {
			d.logger.Warn("heartbeat publish error", "error", err)
		}
	}()
}

func (d *daemon) publishLifecycle(name, reason string) {
	d.refreshLink()
	snap := d.tracker.Snapshot()
	if d.sys == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := d.sys.PublishSystem(event); err != nil {
		d.logger.Warn("failed to publish system event", "event", name, "error", err)
	} else {
		d.logger.Info("published system event", "event", name)
	}
}

// run publishes STARTUP, drives the loop until a signal arrives or ctx
// ends, then publishes SHUTDOWN.
func (d *daemon) run(ctx context.Context, sig <-chan os.Signal) error {
	d.publishLifecycle("STARTUP", "")
	d.logger.Info("started",
		"channels", len(d.asm.Channels()),
		"transport", d.cfg.Transport,
		"debounce", d.cfg.Debounce.String(),
		"repeat_interval", d.cfg.RepeatInterval.String(),
		"heartbeat", d.cfg.Heartbeat.String())

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- d.disp.Run(loopCtx) }()

	reason := ""
	select {
	case s := <-sig:
		reason = signalName(s)
		d.logger.Info("shutting down", "signal", reason)
		stop()
		<-done
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event loop: %w", err)
		}
		reason = "CANCELLED"
	}

	d.publishLifecycle("SHUTDOWN", reason)
	return nil
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func printChannels(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "device %s, transport %s, debounce %v, repeat %v\n", cfg.Device.Name, cfg.Transport, cfg.Debounce, cfg.RepeatInterval)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tINPUT\tRELAY\tLED\tACTIVE_LOW\tPATH")
	for _, ch := range cfg.Channels {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%t\t%s\n", ch.ID, ch.Label, ch.InputPin, ch.RelayPin, ch.LEDPin, ch.ActiveLow(), ch.Path)
	}
	tw.Flush()
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
