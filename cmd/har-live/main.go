// Command har-live recognises activities from a live sensor stream and raises
// an alert when the wearer falls.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/alert"
	"github.com/banshee-data/activity.report/internal/api"
	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/config"
	"github.com/banshee-data/activity.report/internal/dispatch"
	"github.com/banshee-data/activity.report/internal/features"
	"github.com/banshee-data/activity.report/internal/location"
	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/network"
	"github.com/banshee-data/activity.report/internal/pipeline"
	"github.com/banshee-data/activity.report/internal/serialport"
	"github.com/banshee-data/activity.report/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the tuning config JSON")
	modelPath  = flag.String("model", "", "Path to the decision tree JSON (overrides config)")
	listen     = flag.String("listen", "", "UDP listen address (overrides config)")
	forward    = flag.String("forward", "", "Copy every datagram to this UDP address (overrides config)")
	status     = flag.String("status", "", "HTTP status server address, e.g. :8080 (overrides config)")

	pcapFile  = flag.String("pcap", "", "Replay a pcap/pcapng capture instead of listening")
	pcapPort  = flag.Int("pcap-port", 5555, "UDP destination port to replay from the capture (0 = any)")
	pcapSpeed = flag.Float64("pcap-speed", 1, "Replay speed multiplier (0 = as fast as possible)")

	serialDev  = flag.String("serial", "", "Read sensor lines from a serial device instead of UDP")
	serialBaud = flag.Int("serial-baud", serialport.DefaultBaudRate, "Sensor serial baud rate")

	fixedLocation = flag.String("location", "", "Fixed alert location as lat,lon")
	gpsDev        = flag.String("gps", "", "Serial device of an NMEA GPS receiver for alert locations")
	gpsBaud       = flag.Int("gps-baud", 9600, "GPS serial baud rate")
	gpsMaxAge     = flag.Duration("gps-max-age", 2*time.Minute, "Oldest GPS fix attached to an alert")
	openMap       = flag.Bool("open-map", false, "Open the fall location in the desktop browser")

	mqttBroker = flag.String("mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883 (overrides config)")

	logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat = flag.String("log-format", "console", "Log format (console, json)")

	showVersion = flag.Bool("version", false, "Print version and exit")
)

// shutdownGrace bounds how long in-flight classifications may run after a
// stop signal.
const shutdownGrace = 5 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("har-live"))
		return
	}

	logger, err := monitoring.NewLogger(*logLevel, *logFormat, "har-live")
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("har-live stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	logger.Info("starting", zap.String("version", version.Version), zap.String("git_sha", version.GitSHA))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg)

	adapter, err := loadClassifier(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup

	loc, err := startLocation(ctx, &wg, logger)
	if err != nil {
		return err
	}

	stats := network.NewStats(nil, logger)
	sinks := &dispatch.Multi{}
	sinks.Add(alert.NewLogSink(logger))

	var opener alert.Opener = alert.LogOpener{Logger: logger}
	if *openMap {
		opener = alert.ExecOpener{}
	}
	mapSink, err := alert.NewMapLinkSink(alert.DefaultMapBaseURL, opener)
	if err != nil {
		return err
	}
	sinks.Add(mapSink)

	if broker := cfg.GetMQTTBroker(); broker != "" {
		mqttCfg := alert.MQTTConfig{
			Broker:      broker,
			ClientID:    cfg.GetMQTTClientID(),
			TopicPrefix: cfg.GetMQTTTopicPrefix(),
			QoS:         cfg.GetMQTTQoS(),
		}
		client, err := alert.DialMQTT(mqttCfg)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		sinks.Add(alert.NewMQTTSink(client, mqttCfg))
		logger.Info("publishing to MQTT", zap.String("broker", broker), zap.String("prefix", cfg.GetMQTTTopicPrefix()))
	}

	var (
		hub      *api.Hub
		timeline *api.Timeline
	)
	if cfg.GetStatusAddress() != "" {
		hub = api.NewHub(logger)
		defer hub.Close()
		sinks.Add(hub)
		timeline = api.NewTimeline(api.DefaultTimelineSize, adapter.Labels())
		sinks.Add(timeline)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Cooldown: cfg.GetFallCooldown(),
		Observer: sinks,
		Alerter:  sinks,
		Location: loc,
		Logger:   logger,
	})

	p, err := pipeline.New(pipeline.Config{
		WindowSize: cfg.GetWindowSize(),
		StepSize:   cfg.GetStepSize(),
		Alpha:      cfg.GetSmoothingAlpha(),
		Features:   cfg.FeatureConfig(),
		Classifier: adapter,
		Dispatcher: dispatcher,
		Stats:      stats,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if hub != nil {
		srv := api.NewServer(api.ServerConfig{
			Stats:    stats,
			Activity: p,
			Hub:      hub,
			Timeline: timeline,
			Info: api.Info{
				WindowSize:   p.WindowSize(),
				StepSize:     p.StepSize(),
				FallCooldown: cfg.GetFallCooldown().String(),
				Labels:       labelNames(adapter.Labels()),
				Source:       sourceName(cfg),
				Build:        version.Get(),
			},
			Logger: logger,
		})
		startStatusServer(ctx, &wg, cfg.GetStatusAddress(), api.LoggingMiddleware(logger, srv.ServeMux()), logger)
	}

	// A class index without a label means the model and label set disagree;
	// nothing downstream can be trusted.
	go func() {
		select {
		case err := <-p.Fatal():
			cancel(err)
		case <-ctx.Done():
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingest(ctx, cfg, p, stats, logger); err != nil && !errors.Is(err, context.Canceled) {
			cancel(err)
			return
		}
		if *pcapFile != "" {
			// Replay finished: let the last windows classify, then stop.
			p.Wait(shutdownGrace)
			cancel(nil)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	if !p.Wait(shutdownGrace) {
		logger.Warn("abandoning in-flight classifications")
	}
	stats.LogStats()

	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// applyOverrides copies non-empty command-line values over the config.
func applyOverrides(cfg *config.TuningConfig) {
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&cfg.ModelPath, *modelPath)
	set(&cfg.ListenAddress, *listen)
	set(&cfg.ForwardAddress, *forward)
	set(&cfg.StatusAddress, *status)
	set(&cfg.MQTTBroker, *mqttBroker)
}

// loadClassifier loads the model and refuses to start if it does not fit the
// feature layout or label set.
func loadClassifier(cfg *config.TuningConfig, logger *zap.Logger) (*classifier.Adapter, error) {
	tree, err := classifier.LoadDecisionTree(cfg.GetModelPath())
	if err != nil {
		return nil, err
	}

	var labels []classifier.Activity
	if names := cfg.GetLabels(); names != nil {
		if labels, err = classifier.ParseLabels(names); err != nil {
			return nil, err
		}
	} else {
		labels = classifier.DefaultLabels
	}

	if err := classifier.CheckCompatibility(tree, features.FeatureNames(), labels); err != nil {
		return nil, err
	}
	if msg := windowingMismatch(tree, cfg.GetWindowSize(), cfg.GetStepSize()); msg != "" {
		logger.Warn(msg,
			zap.Int("model_window_size", tree.WindowSize),
			zap.Int("model_step_size", tree.StepSize),
			zap.Int("window_size", cfg.GetWindowSize()),
			zap.Int("step_size", cfg.GetStepSize()))
	}
	logger.Info("model loaded",
		zap.String("path", cfg.GetModelPath()),
		zap.Int("nodes", len(tree.ChildrenLeft)),
		zap.Int("features", tree.NumFeatures()))

	return classifier.NewAdapter(tree, labels)
}

// windowingMismatch describes how live windowing differs from the windowing
// the model was trained with. Models that do not declare it are trusted.
func windowingMismatch(tree *classifier.DecisionTree, windowSize, stepSize int) string {
	switch {
	case tree.WindowSize == 0:
		return ""
	case tree.WindowSize != windowSize:
		return "model was trained on a different window size; predictions may be unreliable"
	case tree.StepSize != 0 && tree.StepSize != stepSize:
		return "model was trained with a different window step"
	}
	return ""
}

func startLocation(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger) (location.Provider, error) {
	if *fixedLocation != "" {
		lat, lon, err := parseLatLon(*fixedLocation)
		if err != nil {
			return nil, err
		}
		return location.NewStatic(lat, lon)
	}
	if *gpsDev == "" {
		return nil, nil
	}

	port, err := serialport.Open(*gpsDev, serialport.PortOptions{BaudRate: *gpsBaud})
	if err != nil {
		return nil, err
	}
	tracker := location.NewNMEATracker(*gpsMaxAge, nil, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tracker.Run(ctx, port); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("GPS reader stopped", zap.Error(err))
		}
	}()
	return tracker, nil
}

func parseLatLon(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("location must be lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude: %w", err)
	}
	return lat, lon, nil
}

// ingest feeds p from the selected source until ctx is done or the source
// ends.
func ingest(ctx context.Context, cfg *config.TuningConfig, p *pipeline.Pipeline, stats *network.Stats, logger *zap.Logger) error {
	switch {
	case *pcapFile != "":
		logger.Info("replaying capture", zap.String("file", *pcapFile), zap.Float64("speed", *pcapSpeed))
		return network.ReplayPCAP(ctx, *pcapFile, network.ReplayConfig{
			Port:    *pcapPort,
			Speed:   *pcapSpeed,
			Handler: p,
			Stats:   stats,
			Logger:  logger,
		})

	case *serialDev != "":
		port, err := serialport.Open(*serialDev, serialport.PortOptions{BaudRate: *serialBaud})
		if err != nil {
			return err
		}
		logger.Info("reading sensor from serial port", zap.String("device", *serialDev))
		return network.ReadSerial(ctx, port, p, stats)

	default:
		var fwd *network.PacketForwarder
		if addr := cfg.GetForwardAddress(); addr != "" {
			var err error
			fwd, err = network.NewPacketForwarder(addr, stats, cfg.GetStatsInterval(), logger)
			if err != nil {
				return err
			}
			defer fwd.Close()
		}
		l := network.NewUDPListener(network.UDPListenerConfig{
			Address:     cfg.GetListenAddress(),
			RcvBuf:      cfg.GetRcvBuf(),
			LogInterval: cfg.GetStatsInterval(),
			Stats:       stats,
			Handler:     p,
			Forwarder:   fwd,
			Logger:      logger,
		})
		return l.Start(ctx)
	}
}

func startStatusServer(ctx context.Context, wg *sync.WaitGroup, addr string, h http.Handler, logger *zap.Logger) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		logger.Info("status server listening", zap.String("address", addr))

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
	}()
}

func sourceName(cfg *config.TuningConfig) string {
	switch {
	case *pcapFile != "":
		return "pcap " + *pcapFile
	case *serialDev != "":
		return "serial " + *serialDev
	}
	return "udp " + cfg.GetListenAddress()
}

func labelNames(labels []classifier.Activity) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = l.String()
	}
	return out
}
