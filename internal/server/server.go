// Package server wires the proctoring service together: storage, vision
// backend, evidence writer, MQTT notifier, live session registry, HTTP API,
// and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	api "github.com/procwatch/proctor-go/internal/api/v2"
	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/datastore"
	"github.com/procwatch/proctor-go/internal/evidence"
	"github.com/procwatch/proctor-go/internal/logging"
	"github.com/procwatch/proctor-go/internal/mqtt"
	"github.com/procwatch/proctor-go/internal/observability"
	"github.com/procwatch/proctor-go/internal/session"
	"github.com/procwatch/proctor-go/internal/vision/tflite"
)

const shutdownTimeout = 10 * time.Second

// Run starts the service and blocks until ctx is cancelled or a component
// fails fatally.
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logging.ForService("server")

	ds := datastore.New(settings)
	if ds == nil {
		return fmt.Errorf("no database output enabled")
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			log.Error("failed to close datastore", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	backend, err := tflite.New(&settings.Proctoring)
	if err != nil {
		return fmt.Errorf("initializing vision backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("failed to close vision backend", "error", err)
		}
	}()

	var evidenceSink session.EvidenceSink
	if settings.Proctoring.Evidence.Enabled {
		writer, err := evidence.NewWriter(
			settings.Proctoring.Evidence.Path,
			settings.Proctoring.Evidence.QueueSize)
		if err != nil {
			return fmt.Errorf("initializing evidence writer: %w", err)
		}
		defer writer.Close()
		evidenceSink = writer
	}

	violationSink, closeSink := buildViolationSink(ctx, settings, ds, log)
	defer closeSink()

	registry := session.NewRegistry(
		settings.Proctoring.Session.IdleTimeout,
		func(m *session.Manager) {
			record := datastore.SessionFromSnapshot(m.Snapshot())
			if err := ds.SaveSession(&record); err != nil {
				log.Error("failed to persist interrupted session",
					"session_id", m.ID(), "error", err)
			}
			metrics.ActiveSessions.Dec()
			metrics.SessionsTotal.WithLabelValues(string(session.StatusInterrupted)).Inc()
		},
		logging.ForService("registry"))

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	if settings.WebServer.Debug {
		e.Debug = true
	}

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	api.New(e, ds, settings, registry, backend, evidenceSink, violationSink, metrics)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + settings.WebServer.Port
		log.Info("starting web server", "addr", addr, "node", settings.Main.Name)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildViolationSink assembles the violation fan-out: always persist to the
// datastore, and also publish to MQTT when a broker is configured.
func buildViolationSink(ctx context.Context, settings *conf.Settings,
	ds datastore.Interface, log interface {
		Warn(msg string, args ...any)
	}) (session.ViolationSink, func()) {

	persist := newPersistSink(ds)

	if !settings.Proctoring.MQTT.Enabled {
		return persist, persist.Close
	}

	client, err := mqtt.NewClient(mqtt.DefaultConfig(settings))
	if err != nil {
		log.Warn("MQTT disabled, invalid configuration", "error", err)
		return persist, persist.Close
	}
	notifier := mqtt.NewNotifier(ctx, client, settings.Proctoring.MQTT.Topic)

	fan := fanoutSink{persist, notifier}
	return fan, func() {
		notifier.Close()
		persist.Close()
	}
}

// fanoutSink delivers each violation to every sink.
type fanoutSink []session.ViolationSink

func (f fanoutSink) Notify(v session.Violation) {
	for _, s := range f {
		s.Notify(v)
	}
}
