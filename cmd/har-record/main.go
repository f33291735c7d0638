// Command har-record captures a labelled sensor session for training: every
// datagram becomes a CSV row tagged with the activity being performed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/classifier"
	"github.com/banshee-data/activity.report/internal/config"
	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/network"
	"github.com/banshee-data/activity.report/internal/recording"
	"github.com/banshee-data/activity.report/internal/serialport"
	"github.com/banshee-data/activity.report/internal/version"
)

var (
	outFile   = flag.String("out", "", "CSV file to write (default <label>-<time>.csv)")
	label     = flag.String("label", "", "Activity being recorded (required)")
	appendOut = flag.Bool("append", false, "Append to an existing CSV file instead of replacing it")
	header    = flag.Bool("header", false, "Write a column header row to a new or empty file")
	cfgPath   = flag.String("config", "", "Tuning config whose labels set the class index order (default: built-in order)")
	dbPath    = flag.String("db", "", "Also store the session in this SQLite database")
	plotFile  = flag.String("plot", "", "Save a PNG of the accel and gyro magnitudes here when recording ends")

	listen    = flag.String("listen", ":5555", "UDP listen address")
	pcapFile  = flag.String("pcap", "", "Record from a pcap/pcapng capture instead of listening")
	pcapPort  = flag.Int("pcap-port", 5555, "UDP destination port to read from the capture (0 = any)")
	serialDev = flag.String("serial", "", "Record from a serial device instead of UDP")
	baud      = flag.Int("serial-baud", serialport.DefaultBaudRate, "Sensor serial baud rate")

	logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat = flag.String("log-format", "console", "Log format (console, json)")

	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("har-record"))
		return
	}

	logger, err := monitoring.NewLogger(*logLevel, *logFormat, "har-record")
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("har-record stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	logger.Info("starting", zap.String("version", version.Version), zap.String("git_sha", version.GitSHA))

	activity, class, err := resolveLabel(*cfgPath, *label)
	if err != nil {
		return err
	}
	out := *outFile
	if out == "" {
		out = recording.FileName(activity.String(), time.Now())
	}

	f, empty, err := openOutput(out, *appendOut)
	if err != nil {
		return err
	}
	defer f.Close()

	csvw, err := recording.NewCSVWriter(f, class, *header && empty)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := network.NewStats(nil, logger)
	recCfg := recording.RecorderConfig{CSV: csvw, Stats: stats, Logger: logger}
	if *plotFile != "" {
		recCfg.Trace = &recording.Trace{}
	}

	var (
		store   *recording.Store
		session recording.Session
	)
	if *dbPath != "" {
		store, err = recording.OpenStore(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		session, err = store.StartSession(ctx, activity.String(), sourceName(), time.Now())
		if err != nil {
			return err
		}
		recCfg.Store = store
		recCfg.SessionID = session.ID
		logger.Info("recording session started", zap.String("session_id", session.ID))
	}

	rec, err := recording.NewRecorder(recCfg)
	if err != nil {
		return err
	}

	logger.Info("recording", zap.String("label", activity.String()), zap.Int("class", class), zap.String("out", out), zap.String("source", sourceName()))
	srcErr := record(ctx, rec, stats, logger)

	// ctx may already be cancelled; the final flush must still run.
	flushCtx := context.WithoutCancel(ctx)
	if err := rec.Flush(flushCtx); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	if store != nil {
		if err := store.EndSession(flushCtx, session.ID, time.Now()); err != nil {
			return err
		}
	}
	logger.Info("recording finished", zap.Int("samples", rec.Samples()), zap.Int64("malformed", stats.Snapshot().Malformed))

	if recCfg.Trace != nil {
		if err := recCfg.Trace.SavePNG(*plotFile, fmt.Sprintf("%s (%s)", activity, out)); err != nil {
			logger.Warn("failed to save plot", zap.String("path", *plotFile), zap.Error(err))
		} else {
			logger.Info("saved plot", zap.String("path", *plotFile))
		}
	}

	if srcErr != nil && !errors.Is(srcErr, context.Canceled) {
		return srcErr
	}
	return nil
}

// resolveLabel parses the -label name and returns its class index in the
// label order of the config at path.
func resolveLabel(path, name string) (classifier.Activity, int, error) {
	activity, err := classifier.ParseActivity(name)
	if err != nil {
		return "", 0, fmt.Errorf("-label: %w", err)
	}

	var labels []classifier.Activity
	if path != "" {
		cfg, err := config.LoadTuningConfig(path)
		if err != nil {
			return "", 0, fmt.Errorf("failed to load config %s: %w", path, err)
		}
		if names := cfg.GetLabels(); len(names) > 0 {
			if labels, err = classifier.ParseLabels(names); err != nil {
				return "", 0, fmt.Errorf("config labels: %w", err)
			}
		}
	}

	class, err := classifier.LabelIndex(labels, activity)
	if err != nil {
		return "", 0, fmt.Errorf("-label: %w", err)
	}
	return activity, class, nil
}

// openOutput opens path for writing and reports whether the file is empty.
func openOutput(path string, appendMode bool) (*os.File, bool, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open output file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("failed to stat output file: %w", err)
	}
	return f, info.Size() == 0, nil
}

func record(ctx context.Context, rec *recording.Recorder, stats *network.Stats, logger *zap.Logger) error {
	switch {
	case *pcapFile != "":
		return network.ReplayPCAP(ctx, *pcapFile, network.ReplayConfig{
			Port:    *pcapPort,
			Handler: rec,
			Stats:   stats,
			Logger:  logger,
		})
	case *serialDev != "":
		port, err := serialport.Open(*serialDev, serialport.PortOptions{BaudRate: *baud})
		if err != nil {
			return err
		}
		return network.ReadSerial(ctx, port, rec, stats)
	default:
		l := network.NewUDPListener(network.UDPListenerConfig{
			Address: *listen,
			Stats:   stats,
			Handler: rec,
			Logger:  logger,
		})
		return l.Start(ctx)
	}
}

func sourceName() string {
	switch {
	case *pcapFile != "":
		return "pcap " + *pcapFile
	case *serialDev != "":
		return "serial " + *serialDev
	}
	return "udp " + *listen
}
