package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/clinicops/clinic-portal/internal/audit"
	"github.com/clinicops/clinic-portal/internal/booking"
	"github.com/clinicops/clinic-portal/internal/cache"
	"github.com/clinicops/clinic-portal/internal/catalog"
	"github.com/clinicops/clinic-portal/internal/config"
	"github.com/clinicops/clinic-portal/internal/conversation"
	"github.com/clinicops/clinic-portal/internal/crm"
	"github.com/clinicops/clinic-portal/internal/database"
	"github.com/clinicops/clinic-portal/internal/directory"
	"github.com/clinicops/clinic-portal/internal/jwt"
	"github.com/clinicops/clinic-portal/internal/knowledge"
	"github.com/clinicops/clinic-portal/internal/metrics"
	"github.com/clinicops/clinic-portal/internal/observe"
	"github.com/clinicops/clinic-portal/internal/patient"
	"github.com/clinicops/clinic-portal/internal/secrets"
	"github.com/clinicops/clinic-portal/internal/server"
	"github.com/clinicops/clinic-portal/internal/throttle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

// portal holds the components the HTTP routes are served by. Optional
// features are nil when their configuration is absent.
type portal struct {
	slots    slotFinder
	bookings booker
	insurers insurerLister
	options  catalog.Catalog
	limiter  *throttle.Limiter
	metrics  http.Handler

	sessions      *jwt.Sessions
	ingestKey     string
	conversations conversationStore
	knowledge     knowledgeStore
	publisher     knowledgePublisher
}

func buildPortal(ctx context.Context, cfg config.Config, httpClient *http.Client, hooks *server.ShutdownHooks) (*portal, error) {
	clientSecret := cfg.CRM.ClientSecret
	if cfg.CRM.ClientSecretARN != "" {
		resolved, err := secrets.Resolve(ctx, cfg.CRM.ClientSecretARN)
		if err != nil {
			return nil, fmt.Errorf("CRM client secret lookup failed: %w", err)
		}
		clientSecret = resolved
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	crmMetrics := metrics.NewCRMMetrics(registry)

	tokens, err := crm.NewTokenCache(crm.Credentials{
		BaseURL:      cfg.CRM.BaseURL,
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: clientSecret,
	}, httpClient, crm.WithTokenObserver(crmMetrics))
	if err != nil {
		return nil, fmt.Errorf("CRM credentials: %w", err)
	}

	client := crm.NewClient(cfg.CRM.BaseURL, crm.Schedule{
		FacilityID: cfg.CRM.FacilityID,
		DoctorID:   cfg.CRM.DoctorID,
		AddressID:  cfg.CRM.AddressID,
	}, tokens, httpClient, crm.WithObserver(crmMetrics))

	listingCache, err := cache.NewFromConfig[directory.Listing](ctx, cfg.Cache, cfg.Cache.DirectoryTTL, 10)
	if err != nil {
		return nil, fmt.Errorf("directory cache configuration failed: %w", err)
	}
	hooks.AddCloser("directory-cache", listingCache)

	options, err := catalog.Load(cfg.Catalog.File)
	if err != nil {
		return nil, fmt.Errorf("booking catalog: %w", err)
	}

	resolver := patient.NewResolver(client, patient.WithHistoryFloor(cfg.CRM.HistoryFloor))

	bookings := booking.NewService(client, resolver, booking.WithObserver(crmMetrics))

	p := &portal{
		slots:     bookings,
		bookings:  bookings,
		insurers:  directory.NewInsurers(client, listingCache, cfg.Cache.DirectoryTTL),
		options:   options,
		limiter:   throttle.New(cfg.Server.BookingRatePerMinute, cfg.Server.BookingBurst, 10*time.Minute),
		ingestKey: cfg.Admin.IngestAPIKey,
	}
	if cfg.Observe.PrometheusEnabled {
		p.metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	if cfg.Admin.Key != "" {
		p.sessions, err = jwt.NewSessions(cfg.Admin)
		if err != nil {
			return nil, err
		}
	} else {
		log.Info().Msg("admin routes disabled: ADMIN_KEY not set")
	}

	if cfg.Database.URL == "" {
		log.Info().Msg("conversation and knowledge routes disabled: DATABASE_URL not set")
		return p, nil
	}

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	hooks.AddClose("database", pool)

	p.conversations = conversation.NewStore(pool)
	knowledgeStore := knowledge.NewStore(pool)
	p.knowledge = knowledgeStore

	var condenser knowledge.Condenser
	if cfg.Knowledge.GeminiAPIKey != "" {
		gemini, err := knowledge.NewGeminiCondenser(ctx, cfg.Knowledge.GeminiAPIKey, cfg.Knowledge.GeminiModel)
		if err != nil {
			return nil, err
		}
		hooks.AddCloser("gemini", gemini)
		condenser = gemini
	}
	p.publisher = knowledge.NewPublisher(knowledgeStore, condenser)

	return p, nil
}

func configureServerRoutes(p *portal) http.Handler {
	// HTTP telemetry is configured by default
	mux := observe.NewMux(http.NewServeMux())

	auditor := audit.Middleware()

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Transcript migration is the one bulk upload.
	requestLimiter := maxRequestSize(20 << 10)   // 20 KB
	draftLimiter := maxRequestSize(1 << 20)      // 1 MB
	migrationLimiter := maxRequestSize(20 << 20) // 20 MB

	standardRouteMiddleware := alice.New(requestLimiter)
	publicRouteMiddleware := alice.New(requestLimiter, auditor)

	mux.Handle("GET /available-slots", publicRouteMiddleware.Then(handleAvailableSlots(p.slots)))
	mux.Handle("POST /book-slot", publicRouteMiddleware.Append(p.limiter.Middleware()).Then(handleBookSlot(p.bookings)))
	mux.Handle("GET /insurances", publicRouteMiddleware.Then(handleInsurances(p.insurers)))
	mux.Handle("GET /booking-options", standardRouteMiddleware.Then(handleBookingOptions(p.options)))

	ingestRouteMiddleware := alice.New(auditor, jwt.BearerKey(p.ingestKey))

	if p.sessions != nil {
		mux.Handle("POST /api/admin/login", publicRouteMiddleware.Then(handleAdminLogin(p.sessions)))
		mux.Handle("POST /api/admin/logout", publicRouteMiddleware.Then(handleAdminLogout(p.sessions)))
	}

	if p.conversations != nil {
		mux.Handle("POST /api/conversations", ingestRouteMiddleware.Append(draftLimiter).Then(handleConversationIngest(p.conversations)))
		mux.Handle("POST /api/admin/migrate", ingestRouteMiddleware.Append(migrationLimiter).Then(handleConversationMigrate(p.conversations)))
	}

	if p.knowledge != nil {
		mux.Handle("GET /api/knowledge-base", standardRouteMiddleware.Then(handlePublishedKnowledge(p.knowledge)))
	}

	if p.sessions != nil && p.conversations != nil {
		adminRouteMiddleware := alice.New(draftLimiter, auditor, p.sessions.Middleware())

		mux.Handle("GET /api/conversations", adminRouteMiddleware.Then(handleConversationExport(p.conversations, time.Now)))
		mux.Handle("GET /api/admin/knowledge-base", adminRouteMiddleware.Then(handleKnowledgeBase(p.knowledge)))
		mux.Handle("POST /api/admin/knowledge-base", adminRouteMiddleware.Then(handleKnowledgeSync(p.knowledge)))
		mux.Handle("PUT /api/admin/knowledge-base", adminRouteMiddleware.Then(handleKnowledgePublish(p.publisher)))
	}

	// healthchecks and metrics scrapes are not included in telemetry
	mux.HandleUntraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))
	if p.metrics != nil {
		mux.HandleUntraced("GET /metrics", p.metrics)
	}

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	if os.Getenv("ENV") == "development" {
		cfg.Admin.CookieSecure = false
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client. Hooks run
	// last-registered first, so telemetry is flushed after everything else.
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	crmClient := &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   cfg.CRM.Timeout(),
	}

	p, err := buildPortal(ctx, cfg, crmClient, hooks)
	if err != nil {
		_ = hooks.Execute(ctx)
		return fmt.Errorf("portal configuration failed: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           configureServerRoutes(p),
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second

	err = server.Serve(ctx, srv, shutdownTimeout, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// audit entries are written above every standard level
	defaultLevelName := zerolog.LevelFieldMarshalFunc
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == audit.Level {
			return audit.LevelName
		}
		return defaultLevelName(l)
	}

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
