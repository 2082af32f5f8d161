package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/alloc"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/eventbus"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/gstdriver"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/monitor"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/synthetic"
)

// Version information
const version = "v0.1.0"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	pipeline := flag.String("pipeline", "", `Pipeline override: "pipeline=<launch text>" or raw text containing '!'`)
	driverName := flag.String("driver", "", "Pipeline driver: gstreamer, synthetic (overrides config)")
	outputDir := flag.String("output", "", "Directory to save served frames (overrides config)")
	outputFormat := flag.String("format", "", "Output format: png, jpeg (overrides config)")
	maxFrames := flag.Int("max-frames", -1, "Stop after N served samples (0 = unlimited, overrides config)")
	mqttBroker := flag.String("mqtt", "", "MQTT broker host:port for event export (overrides config)")
	monitorAddr := flag.String("monitor", "", "Websocket monitor listen address, e.g. :8089 (overrides config)")
	logFormat := flag.String("log-format", "", "Log format: text, json (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("vcam-run %s\n", version)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Flag overrides
	if *driverName != "" {
		cfg.Driver = *driverName
	}
	if *outputDir != "" {
		cfg.Capture.OutputDir = *outputDir
	}
	if *outputFormat != "" {
		cfg.Capture.Format = *outputFormat
	}
	if *maxFrames >= 0 {
		cfg.Capture.MaxFrames = *maxFrames
	}
	if *mqttBroker != "" {
		cfg.MQTT.Broker = *mqttBroker
	}
	if *monitorAddr != "" {
		cfg.Monitor.Addr = *monitorAddr
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	setupLogging(cfg.Log)

	if *pipeline != "" {
		applyPipelineOverride(cfg, *pipeline)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.Capture.OutputDir != "" {
		if err := os.MkdirAll(cfg.Capture.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
		slog.Info("frame saving enabled",
			"directory", cfg.Capture.OutputDir,
			"format", cfg.Capture.Format,
			"every_n", cfg.Capture.EveryN,
		)
	}

	printBanner(cfg)

	var driver vcam.Driver
	switch cfg.Driver {
	case config.DriverSynthetic:
		driver = synthetic.New(synthetic.WithPadding(64))
	default:
		driver = gstdriver.New()
	}

	width, height := int(cfg.Camera.Width), int(cfg.Camera.Height)
	heap, err := alloc.NewHeap(width, height, alloc.DefaultAlignment)
	if err != nil {
		log.Fatalf("Failed to create allocator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New()
	defer bus.Close()

	latest, err := bus.SubscribeLatest("latest")
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	// MQTT export
	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		mqttEmitter = emitter.NewMQTTEmitter(cfg.MQTT)
		if err := mqttEmitter.Connect(ctx); err != nil {
			slog.Error("mqtt export disabled", "error", err)
			mqttEmitter = nil
		} else {
			ch := make(chan vcam.Event, 256)
			if err := bus.Subscribe("mqtt", ch); err != nil {
				log.Fatalf("Failed to subscribe mqtt emitter: %v", err)
			}
			go mqttEmitter.Run(ctx, ch)
		}
	}

	// Websocket monitor
	var hub *monitor.Hub
	if cfg.Monitor.Addr != "" {
		hub = monitor.NewHub()
		ch := make(chan vcam.Event, 256)
		if err := bus.Subscribe("monitor", ch); err != nil {
			log.Fatalf("Failed to subscribe monitor: %v", err)
		}
		go forward(ctx, ch, hub)
		go func() {
			if err := hub.Serve(ctx, cfg.Monitor.Addr, cfg.Monitor.Path); err != nil {
				slog.Error("monitor stopped", "error", err)
			}
		}()
	}

	bridge := vcam.NewFrameBridge(driver)
	stream, err := vcam.NewStream(vcam.StreamConfig{
		Pipeline:  cfg.Camera,
		Source:    bridge,
		Allocator: heap,
		Sink:      bus,
		Name:      cfg.Name,
	})
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("starting stream...")
	if err := stream.Start(); err != nil {
		log.Fatalf("Failed to start stream: %v", err)
	}
	slog.Info("stream started", "stream", stream.Name(), "pipeline", bridge.Config().Description)

	fmt.Printf("Serving samples at %d/%d fps\n", cfg.Camera.FPSNumerator, cfg.Camera.FPSDenominator)
	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	saver := newFrameSaver(cfg.Capture, width, height)
	if saver != nil {
		go saver.run(ctx)
	}

	startTime := time.Now()
	statsTicker := time.NewTicker(time.Duration(cfg.StatsIntervalS) * time.Second)
	defer statsTicker.Stop()
	pollTicker := time.NewTicker(cfg.Camera.Interval())
	defer pollTicker.Stop()

	var served, failed uint64

	// Main request loop
loop:
	for {
		select {
		case <-sigChan:
			fmt.Printf("\n\nReceived interrupt signal, shutting down...\n")
			break loop

		case <-statsTicker.C:
			printStats(bridge.Stats(), served, failed, time.Since(startTime))
			if ev, ok := latest.TryReceive(); ok {
				slog.Info("latest event", "kind", ev.Kind, "detail", ev.Detail)
			}
			if mqttEmitter != nil {
				st := mqttEmitter.Stats()
				slog.Info("mqtt export", "connected", st.Connected, "errors", st.Errors)
			}
			if hub != nil {
				st := hub.Stats()
				slog.Info("monitor", "clients", st.Clients, "sent", st.MessagesSent, "dropped", st.MessagesDropped)
			}

		case <-pollTicker.C:
			sample, err := stream.RequestSample(nil)
			if err != nil {
				failed++
				slog.Warn("sample request failed", "error", err)
				continue
			}
			served++

			img := sample.Image.(*alloc.Image)
			if saver != nil && sample.Seq%uint64(cfg.Capture.EveryN) == 0 {
				saver.offer(sample.Seq, img.Bytes(), heap.Stride())
			}
			img.Release()

			if cfg.Capture.MaxFrames > 0 && served >= uint64(cfg.Capture.MaxFrames) {
				fmt.Printf("\nReached maximum frames (%d), stopping...\n", cfg.Capture.MaxFrames)
				break loop
			}
		}
	}

	slog.Info("stopping stream...")
	stream.Shutdown()
	cancel()

	if mqttEmitter != nil {
		mqttEmitter.Disconnect()
	}
	if hub != nil {
		hub.Close()
	}

	printFinal(bridge.Stats(), served, failed, saver, time.Since(startTime))
	slog.Info("vcam-run completed")
}

// applyPipelineOverride sets the camera description from a -pipeline value
// and infers geometry and frame rate from it. An unusable value is logged
// and the configured pipeline is kept.
func applyPipelineOverride(cfg *config.Config, raw string) bool {
	desc := config.ResolveDescriptionOverride(raw)
	if desc == "" {
		slog.Warn("ignoring pipeline override",
			"value", raw,
			"reason", "expected pipeline=<text> or text containing '!'",
		)
		return false
	}
	cfg.Camera.Description = desc
	cfg.Camera = config.InferFromDescription(desc, cfg.Camera)
	return true
}

// forward relays bus events to a non-blocking sink
func forward(ctx context.Context, ch <-chan vcam.Event, sink vcam.EventSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			sink.Publish(ev)
		}
	}
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *config.Config) {
	desc := cfg.Camera.Description
	if desc == "" {
		desc = "(built-in test pattern)"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║            Virtual Camera Runner - Orion Module           ║\n")
	fmt.Printf("║                      Version %s                       ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Stream:        %s\n", cfg.Name)
	fmt.Printf("  Driver:        %s\n", cfg.Driver)
	fmt.Printf("  Pipeline:      %s\n", desc)
	fmt.Printf("  Resolution:    %s\n", cfg.Camera.Resolution())
	fmt.Printf("  Frame Rate:    %d/%d\n", cfg.Camera.FPSNumerator, cfg.Camera.FPSDenominator)
	if cfg.Capture.OutputDir != "" {
		fmt.Printf("  Output Dir:    %s (every %d samples)\n", cfg.Capture.OutputDir, cfg.Capture.EveryN)
	} else {
		fmt.Printf("  Output Dir:    (none - frames not saved)\n")
	}
	if cfg.Capture.MaxFrames > 0 {
		fmt.Printf("  Max Frames:    %d\n", cfg.Capture.MaxFrames)
	} else {
		fmt.Printf("  Max Frames:    unlimited\n")
	}
	if cfg.MQTT.Broker != "" {
		fmt.Printf("  MQTT:          %s (topic %s)\n", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}
	if cfg.Monitor.Addr != "" {
		fmt.Printf("  Monitor:       ws://%s%s\n", cfg.Monitor.Addr, cfg.Monitor.Path)
	}
	fmt.Printf("\n")
}

func printStats(stats vcam.BridgeStats, served, failed uint64, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Bridge Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Running:            %6v\n", stats.Running)
	fmt.Printf("│ Resolution:         %s\n", stats.Resolution)
	fmt.Printf("│ Frames Stored:      %6d frames\n", stats.FramesStored)
	fmt.Printf("│ Frames Dropped:     %6d frames\n", stats.FramesDropped)
	fmt.Printf("│ Pull Timeouts:      %6d\n", stats.PullTimeouts)
	fmt.Printf("│ Ingest FPS:         %6.2f fps (stable: %v)\n", stats.IngestFPS, stats.IngestStable)
	fmt.Printf("│ Last Frame Age:     %s\n", stats.LastFrameAge.Round(time.Millisecond))
	fmt.Printf("│ Samples Served:     %6d\n", served)
	fmt.Printf("│ Placeholders:       %6d\n", stats.PlaceholderCopies)
	fmt.Printf("│ Request Failures:   %6d\n", failed)
	if len(stats.BusErrors) > 0 {
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ Bus Errors: %s\n", formatCounts(stats.BusErrors))
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}

func printFinal(stats vcam.BridgeStats, served, failed uint64, saver *frameSaver, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", uptime.Round(time.Second))
	fmt.Printf("  Frames Stored:      %d frames\n", stats.FramesStored)
	fmt.Printf("  Frames Dropped:     %d frames\n", stats.FramesDropped)
	fmt.Printf("  Samples Served:     %d\n", served)
	fmt.Printf("  Placeholder Copies: %d\n", stats.PlaceholderCopies)
	fmt.Printf("  Request Failures:   %d\n", failed)
	if saver != nil {
		saved, skipped, errs := saver.counts()
		fmt.Printf("  Frames Saved:       %d (skipped %d, errors %d)\n", saved, skipped, errs)
	}
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")
}

func formatCounts(m map[string]uint64) string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%d", k, v))
	}
	return strings.Join(parts, " ")
}
