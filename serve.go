package main

import (
	"context"
	"log"

	"github.com/Elpepit0/site-tchat-visio/config"
	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/visitors"
	"github.com/Elpepit0/site-tchat-visio/modules/api"
	"github.com/Elpepit0/site-tchat-visio/modules/avatar"
	"github.com/Elpepit0/site-tchat-visio/modules/broadcast"
	"github.com/Elpepit0/site-tchat-visio/modules/fanout"
	"github.com/Elpepit0/site-tchat-visio/modules/profile"
	"github.com/Elpepit0/site-tchat-visio/modules/relay"
	"github.com/Elpepit0/site-tchat-visio/modules/state"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis/v3"
)

const avatarBucketMaxBytes = 512 * 1024 * 1024

// runServer builds the application, serves until a shutdown signal and
// returns the process exit code.
func runServer(cfg config.Config) int {
	log.Println("=== tchat relay - Fiber + WebSocket + EventBus fan-out ===")

	logLevel := mono.LogLevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = mono.LogLevelDebug
	case "warn":
		logLevel = mono.LogLevelWarn
	case "error":
		logLevel = mono.LogLevelError
	}
	logFormat := mono.LogFormatText
	if cfg.LogFormat == "json" {
		logFormat = mono.LogFormatJSON
	}

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.ShutdownTimeout),
		mono.WithLogLevel(logLevel),
		mono.WithLogFormat(logFormat),
		mono.WithJetStreamStorageDir(cfg.JetStreamDir),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	// Avatar images live in an object store bucket on the embedded JetStream.
	bucketStorage := fsjetstream.FileStorage
	if cfg.AvatarStorage == "memory" {
		bucketStorage = fsjetstream.MemoryStorage
	}
	storagePlugin, err := fsjetstream.New(fsjetstream.Config{
		Buckets: []fsjetstream.BucketConfig{
			{
				Name:        avatar.BucketName,
				Description: "User avatar images",
				MaxBytes:    avatarBucketMaxBytes,
				Storage:     bucketStorage,
			},
		},
	})
	if err != nil {
		log.Fatalf("Failed to create storage plugin: %v", err)
	}
	if err := app.RegisterPlugin(storagePlugin, "storage"); err != nil {
		log.Fatalf("Failed to register storage plugin: %v", err)
	}

	// Create modules
	stateModule, err := state.NewModule(cfg.StateBackend, state.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create state module: %v", err)
	}
	fanoutModule, err := fanout.NewModule(fanout.Config{
		Backend:       cfg.FanoutBackend,
		Subject:       cfg.FanoutSubject,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		NATSURL:       cfg.NATSURL,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create fan-out module: %v", err)
	}
	broadcastModule := broadcast.NewModule(logger)
	profileModule := profile.NewModule(profile.Config{
		DBPath: cfg.DBPath,
		JWT: profile.JWTConfig{
			SecretKey:       cfg.JWTSecretKey,
			SessionDuration: cfg.SessionTTL,
			Issuer:          cfg.JWTIssuer,
		},
		BcryptCost: cfg.BcryptCost,
		Admins:     cfg.AdminUsers,
	}, logger)
	relayModule := relay.NewModule(stateModule.Store(), fanoutModule, logger)
	avatarModule := avatar.NewModule(logger)
	apiModule := api.NewModule(api.Config{
		Port:           cfg.Port,
		StaticDir:      cfg.StaticDir,
		AllowOrigins:   cfg.AllowOrigins,
		CookieSecure:   cfg.CookieSecure,
		LoginPerMinute: cfg.LoginPerMinute,
		MessageRate:    cfg.MessageRate,
		MessageBurst:   cfg.MessageBurst,
		MaxFrameBytes:  api.DefaultConfig().MaxFrameBytes,
		HandleTimeout:  api.DefaultConfig().HandleTimeout,
	}, logger)

	// With Redis in play, the login limiter and the avatar lookup cache are
	// shared by every process.
	var sharedStorage fiber.Storage
	if cfg.UsesRedis() {
		sharedStorage = redisstorage.New(redisstorage.Config{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			Database: cfg.RedisDB,
		})
		apiModule.SetLimiterStorage(sharedStorage)
	}
	relayModule.SetLookupCache(sharedStorage, cfg.LookupCacheTTL)
	relayModule.SetLiveness(stateModule.Instances(), cfg.StaleSweepInterval)

	// Inject the collaborators that are not exposed via ServiceContainer.
	apiModule.SetRelay(relayModule)
	apiModule.SetHub(broadcastModule.GetHub())
	apiModule.SetAvatarStore(avatarModule)
	apiModule.SetVisitors(visitors.NewTracker(stateModule.Store(), chat.VisitorTimeout))
	apiModule.SetHealthSources(stateModule, fanoutModule, broadcastModule, profileModule, relayModule, avatarModule)

	// Register modules with the framework.
	// Order: infrastructure first, then the domain, then the driving adapter.
	// - state: shared store (memory or Redis)
	// - fanout: cross-process delivery (EventEmitterModule)
	// - broadcast: websocket hub (EventConsumerModule)
	// - profile: accounts (ServiceProviderModule)
	// - relay: event router (depends on profile)
	// - avatar: image bucket (UsePluginModule)
	// - api: HTTP/WebSocket server (depends on profile)
	app.Register(stateModule)
	app.Register(fanoutModule)
	app.Register(broadcastModule)
	app.Register(profileModule)
	app.Register(relayModule)
	app.Register(avatarModule)
	app.Register(apiModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	ops := map[string]gfshutdown.Operation{
		"mono-app": func(ctx context.Context) error {
			log.Println("Graceful shutdown initiated...")
			return app.Stop(ctx)
		},
	}
	if sharedStorage != nil {
		ops["redis-storage"] = func(_ context.Context) error {
			return sharedStorage.Close()
		}
	}
	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	return exitCode
}

func printStartupInfo(cfg config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Printf("  - State backend: %s", cfg.StateBackend)
	log.Printf("  - Fan-out backend: %s", cfg.FanoutBackend)
	log.Printf("  - Accounts database: %s", cfg.DBPath)
	log.Printf("  - Avatar bucket: %s (%s storage)", avatar.BucketName, cfg.AvatarStorage)
	log.Println("")
	log.Printf("HTTP Endpoints (http://localhost:%d):", cfg.Port)
	log.Println("  POST   /register, /login, /logout - Accounts")
	log.Println("  GET    /me, /user/:username        - Profiles")
	log.Println("  POST   /set_avatar, /avatar        - Avatar URL or upload")
	log.Println("  POST   /ping, GET /active_visitors - Visitor counter")
	log.Println("  GET    /health                     - Module health")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%d/ws):", cfg.Port)
	log.Println("  Frames: {\"event\": name, \"data\": payload}")
	log.Println("")
	if cfg.JWTSecretKey == config.DevelopmentSecret {
		log.Println("WARNING: using the development JWT secret; set JWT_SECRET_KEY")
	}
	log.Println("Press Ctrl+C to shutdown gracefully")
}
