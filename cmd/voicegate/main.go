package main

import (
	"context"
	"log"
	"net"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	gwconfig "github.com/voicegate/voicegate/config"
	"github.com/voicegate/voicegate/internal/aisession"
	"github.com/voicegate/voicegate/internal/call"
	"github.com/voicegate/voicegate/internal/httputil"
	"github.com/voicegate/voicegate/internal/tenant"
	"github.com/voicegate/voicegate/pkg/events"
	"github.com/voicegate/voicegate/pkg/webhook"
	webhookapi "github.com/voicegate/voicegate/pkg/webhook/api"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[gwconfig.GatewayConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("voicegate"),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	pub := events.NewPublisher(srv.QueueManager(), "voicegate", eventRef)

	// --- Tenant personas ---
	loader := tenant.NewLoader(cfg.TenantDir)
	if _, err := loader.LoadAll(); err != nil {
		log.Printf("warning: loading tenants: %v", err)
	}
	if cfg.TenantHotReload {
		go func() {
			if err := loader.WatchAndReload(ctx.Done()); err != nil {
				log.Printf("warning: tenant hot reload: %v", err)
			}
		}()
	}

	callCfg := call.Config{
		AI: aisession.Config{
			URL:                 cfg.AIRealtimeURL,
			APIKey:              cfg.AIAPIKey,
			Instructions:        cfg.DefaultInstructions,
			Greeting:            cfg.DefaultGreeting,
			Voice:               cfg.DefaultVoice,
			GreetingDelay:       cfg.GreetingDelay(),
			MaxReconnects:       cfg.AIMaxReconnects,
			ReconnectBackoff:    cfg.AIReconnectBackoff(),
			ReconnectBackoffMax: cfg.AIReconnectBackoffMax(),
		},
		Tenants:       loader,
		DefaultTenant: cfg.DefaultTenant,
		Publisher:     pub,
	}

	// --- Raw framed TCP front end ---
	rawLn, err := net.Listen("tcp", cfg.RawListenAddr)
	if err != nil {
		log.Fatalf("listening on %s: %v", cfg.RawListenAddr, err)
	}
	rawSrv := call.NewRawServer(callCfg)
	go func() {
		if serveErr := rawSrv.Serve(ctx, rawLn); serveErr != nil {
			log.Printf("raw listener exited: %v", serveErr)
		}
	}()

	// --- Webhook delivery ---
	whRepo := webhook.NewRepository(
		srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"),
	)
	whDeliverer := webhook.NewDeliverer(whRepo, webhook.DelivererConfig{
		MaxRetries:        cfg.WebhookMaxRetries,
		TimeoutSec:        cfg.WebhookTimeoutSec,
		BackoffInitialSec: cfg.WebhookBackoffSec,
		BackoffMaxSec:     cfg.WebhookBackoffMax,
		CBFailThreshold:   cfg.CBFailThreshold,
		CBResetTimeoutSec: cfg.CBResetTimeoutSec,
	}, pool)
	whSubscriber := &webhook.Subscriber{
		Repo:      whRepo,
		Deliverer: whDeliverer,
		Pool:      pool,
	}

	// --- HTTP surface: media stream, provider webhook, admin API ---
	mux := http.NewServeMux()
	mux.Handle("/media-stream", call.NewStreamHandler(callCfg))
	mux.Handle("/voice", call.NewProviderWebhook(cfg.StreamPublicURL))

	whHandler := webhookapi.NewHandler(whRepo, pub)
	whHandler.RegisterRoutes(mux)

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".webhooks", eventURL, whSubscriber),
		frame.WithHTTPHandler(httputil.H2CHandler(mux)),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
