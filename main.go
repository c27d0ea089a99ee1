package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	sweepInterval   = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("set up tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	var svc SignService
	if cfg.GraphQLEndpoint != "" {
		svc = NewGraphQLService(cfg.GraphQLEndpoint, cfg.GraphQLAdminSecret, cfg.GraphQLTimeout)
		log.Printf("Using sign backend at %s", cfg.GraphQLEndpoint)
	} else {
		svc = NewStore()
		log.Println("SIGNWARS_GRAPHQL_ENDPOINT not set, signs are kept in memory")
	}

	var handles HandleStore
	if cfg.SessionDB != "" {
		db, err := OpenHandleStore(cfg.SessionDB)
		if err != nil {
			log.Fatalf("open session db: %v", err)
		}
		defer db.Close()
		handles = db
		log.Printf("Session handles persisted in %s", cfg.SessionDB)
	}

	var gemini *GeminiClient
	if cfg.GCPProjectID != "" {
		gemini, err = NewGeminiClient(ctx, cfg.GCPProjectID, cfg.GCPRegion)
		if err != nil {
			log.Fatalf("initialize Gemini: %v", err)
		}
		defer gemini.Close()
		log.Printf("Gemini client initialized (project: %s)", cfg.GCPProjectID)
	} else {
		log.Println("GCP_PROJECT_ID not set, sign photo reading disabled")
	}

	sse := NewBroadcaster()
	metrics := NewMetrics(func() float64 { return float64(sse.ClientCount()) })
	sessions := NewSessions(InstrumentService(svc, metrics), handles)
	go sessions.Run(ctx, cfg.SessionIdleTTL, sweepInterval)

	srv := NewServer(sessions, gemini, metrics, sse)
	defer srv.Close()
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(srv, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("Server listening on http://localhost:%s", cfg.Port)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}

	// Let submissions and likes already sent to the backend finish.
	sessions.Settle()
	log.Println("Server stopped")
}
