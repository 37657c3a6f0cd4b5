package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/bridge"
	"bus-tracker/internal/broadcast"
	"bus-tracker/internal/config"
	"bus-tracker/internal/gateway"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/model"
	"bus-tracker/internal/notify"
	"bus-tracker/internal/store"
	"bus-tracker/internal/tracking"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	// Tunables stored in the DB override the environment defaults.
	settings, err := st.Settings(ctx, model.Settings{
		GeofenceRadiusMeters: cfg.GeofenceRadiusMeters,
		DelayThresholdMin:    cfg.DelayThresholdMin,
		MinUpdateInterval:    cfg.MinUpdateInterval,
		FallbackSpeedKph:     cfg.FallbackSpeedKph,
	})
	if err != nil {
		log.Fatalf("settings load error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(settings.GeofenceRadiusMeters, settings.DelayThresholdMin)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	resolver, err := auth.NewResolver([]byte(cfg.JWTSecret))
	if err != nil {
		log.Fatalf("auth error: %v", err)
	}

	hub := broadcast.NewHub(resolver, gateway.NewTopicAuthorizer(st), broadcast.Options{
		PingInterval: cfg.PingInterval,
	})
	if mcol != nil {
		hub.SetMetrics(metrics.HubMetrics{C: mcol})
	}

	// NATS mirror of trip/vehicle topics, on only when NATS_URL is set.
	if cfg.NATSURL != "" {
		var bm bridge.Metrics
		if mcol != nil {
			bm = metrics.BridgeMetrics{C: mcol}
		}
		nb, err := bridge.NewNATSBridge(cfg.NATSURL, cfg.NATSPrefix, cfg.LogNATSSubjects, bm)
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer nb.Close()
		hub.SetMirror(nb)
	}

	notifier := notify.New(st, hub, cfg.Location)
	if mcol != nil {
		notifier.SetMetrics(metrics.NotifyMetrics{C: mcol})
	}

	trackers := tracking.NewStore(cfg.EMAAlpha, cfg.StableSamples)
	gw := gateway.New(st, st, st, notifier, hub, hub, trackers, settings)
	if mcol != nil {
		gw.SetMetrics(metrics.GatewayMetrics{C: mcol})
	}
	hub.SetHandler(gw)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}
