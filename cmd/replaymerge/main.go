package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"replay-merge/internal/catalog"
	"replay-merge/internal/loopback"
	"replay-merge/internal/merge"
	"replay-merge/internal/monitor"
	"replay-merge/internal/platform/config"
	"replay-merge/internal/platform/logger"
	"replay-merge/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	shutdownTimeout = 10 * time.Second
	streamID        = 33
	liveEndpoint    = "localhost:43267"
	replayEndpoint  = "localhost:43268"
)

type settings struct {
	port               string
	logLevel           string
	logFormat          string
	receiverWindow     int64
	fragmentLimit      int
	initialMessages    int
	subsequentMessages int
	messagePrefix      string
	responseDelay      int
	idleSleep          time.Duration
	exitWhenDone       bool
	catalogPath        string
}

func loadSettings() settings {
	_ = config.Load()
	return settings{
		port:               config.GetEnv("PORT", "8080"),
		logLevel:           config.GetEnv("LOG_LEVEL", "info"),
		logFormat:          config.GetEnv("LOG_FORMAT", "json"),
		receiverWindow:     config.GetEnvInt64("RECEIVER_WINDOW", 128*1024),
		fragmentLimit:      config.GetEnvInt("FRAGMENT_LIMIT", 10),
		initialMessages:    config.GetEnvInt("INITIAL_MESSAGES", 3000),
		subsequentMessages: config.GetEnvInt("SUBSEQUENT_MESSAGES", 3000),
		messagePrefix:      config.GetEnv("MESSAGE_PREFIX", "Message-Prefix-"),
		responseDelay:      config.GetEnvInt("RESPONSE_DELAY_POLLS", 0),
		idleSleep:          config.GetEnvDuration("IDLE_SLEEP", time.Millisecond),
		exitWhenDone:       config.GetEnv("EXIT_WHEN_DONE", "false") == "true",
		catalogPath:        config.GetEnv("CATALOG_PATH", ""),
	}
}

// newDemo builds the loopback plumbing, publishes the initial messages and
// attaches a merge controller that starts replaying from position 0. A nil
// store keeps recordings in memory only.
func newDemo(s settings, log *slog.Logger, met *metrics.Metrics, board *monitor.Board, store loopback.RecordingStore) (*demo, error) {
	driver := loopback.NewDriver(loopback.WithResponseDelay(s.responseDelay), loopback.WithLogger(log))
	if store == nil {
		store = loopback.NewInMemoryStore()
	}
	archive := loopback.NewArchiveWithStore(driver, store)

	pub, err := driver.AddPublication(loopback.Channel{Endpoint: liveEndpoint}.String(), streamID)
	if err != nil {
		return nil, fmt.Errorf("add publication: %w", err)
	}
	recordingID, err := archive.StartRecording(pub.SessionID())
	if err != nil {
		return nil, fmt.Errorf("start recording: %w", err)
	}
	sub, err := driver.AddSubscription(loopback.Channel{SessionID: pub.SessionID()}.String())
	if err != nil {
		return nil, fmt.Errorf("add subscription: %w", err)
	}

	d := &demo{
		pub:           pub,
		board:         board,
		log:           log,
		prefix:        s.messagePrefix,
		fragmentLimit: s.fragmentLimit,
		idleSleep:     s.idleSleep,
		exitWhenDone:  s.exitWhenDone,
		total:         s.initialMessages + s.subsequentMessages,
	}
	for i := 0; i < s.initialMessages; i++ {
		if err := d.offer(); err != nil {
			return nil, err
		}
	}

	ctrl, err := merge.New(merge.Config{
		ReplayChannel:     loopback.Channel{Endpoint: replayEndpoint, SessionID: pub.SessionID()}.String(),
		ReplayDestination: loopback.Channel{Endpoint: replayEndpoint}.String(),
		LiveDestination:   loopback.Channel{Endpoint: liveEndpoint}.String(),
		RecordingID:       recordingID,
		StartPosition:     0,
		SessionID:         pub.SessionID(),
		ReceiverWindow:    s.receiverWindow,
		Logger:            log,
		Metrics:           met,
	}, sub, archive.Client(), archive)
	if err != nil {
		return nil, fmt.Errorf("new merge: %w", err)
	}
	d.ctrl = ctrl
	board.Update(ctrl)
	return d, nil
}

func main() {
	os.Exit(serve())
}

// serve runs the daemon until a signal arrives or the merge stops, and
// returns the process exit code.
func serve() int {
	s := loadSettings()
	log := logger.New(s.logLevel, s.logFormat)
	met := metrics.New()
	board := monitor.NewBoard()
	h := monitor.NewHandler(board, log)

	var store loopback.RecordingStore
	if s.catalogPath != "" {
		cat, err := catalog.Open(context.Background(), s.catalogPath)
		if err != nil {
			log.Error("open catalog failed", "path", s.catalogPath, "error", err)
			return 1
		}
		defer cat.Close()

		cs := catalog.NewStore(cat, uuid.NewString())
		store = cs
		h.WithRecordings(cat)
		log.Info("recording catalog opened", "path", s.catalogPath, "archive_id", cs.ArchiveID())
	}

	d, err := newDemo(s, log, met, board, store)
	if err != nil {
		log.Error("setup failed", "error", err)
		return 1
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", met.Handler(nil).ServeHTTP)
	h.Routes(r)

	addr := ":" + s.port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- d.run(ctx) }()

	log.Info("server starting",
		"port", s.port,
		"merge_id", d.ctrl.ID(),
		"receiver_window", s.receiverWindow,
		"messages", d.total,
		"log_level", s.logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		log.Info("shutdown signal received, draining connections")
		stop()
		<-runDone
	case err := <-runDone:
		stop()
		if err != nil {
			log.Error("merge stopped", "error", err)
			exitCode = 1
		}
	}

	// The poll goroutine has exited, so the controller is ours to close.
	if err := d.ctrl.Close(); err != nil {
		log.Error("close merge failed", "error", err)
	}
	board.Update(d.ctrl)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("server stopped")
	return exitCode
}
