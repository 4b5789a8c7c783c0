package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/nfse-api/docs"
	"github.com/jhoicas/nfse-api/internal/application/credential"
	"github.com/jhoicas/nfse-api/internal/application/emission"
	"github.com/jhoicas/nfse-api/internal/domain/repository"
	"github.com/jhoicas/nfse-api/internal/infrastructure/blob"
	"github.com/jhoicas/nfse-api/internal/infrastructure/lock"
	"github.com/jhoicas/nfse-api/internal/infrastructure/memory"
	"github.com/jhoicas/nfse-api/internal/infrastructure/metrics"
	infranfse "github.com/jhoicas/nfse-api/internal/infrastructure/nfse"
	"github.com/jhoicas/nfse-api/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-api/internal/infrastructure/notify"
	infrapdf "github.com/jhoicas/nfse-api/internal/infrastructure/pdf"
	"github.com/jhoicas/nfse-api/internal/infrastructure/postgres"
	"github.com/jhoicas/nfse-api/internal/infrastructure/vault"
	httpRouter "github.com/jhoicas/nfse-api/internal/interfaces/http"
	"github.com/jhoicas/nfse-api/pkg/config"
	"github.com/jhoicas/nfse-api/pkg/logger"
	"github.com/jhoicas/nfse-api/pkg/nfse"
)

// URL pública de consulta de NFS-e impresa en el comprovante.
const consultaURL = "https://www.nfse.gov.br/ConsultaPublica"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("nfse_environment", cfg.NFSE.Environment).
		Msg("iniciando aplicación")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("JWT_SECRET requerido")
	}
	alg, err := nfse.ParseSignatureAlgorithm(cfg.NFSE.SignatureAlg)
	if err != nil {
		log.Fatal().Err(err).Msg("NFSE_SIGNATURE_ALGORITHM")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Almacenamiento de metadatos ──
	var (
		credentialRepo repository.CredentialRepository
		emissionRepo   repository.EmissionRepository
	)
	switch cfg.App.Storage {
	case "memory":
		log.Warn().Msg("APP_STORAGE=memory: el ledger no sobrevive a un reinicio")
		credentialRepo = memory.NewCredentialRepository()
		emissionRepo = memory.NewEmissionRepository()
	default:
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("esquema PostgreSQL")
		}
		credentialRepo = postgres.NewCredentialRepository(pool)
		emissionRepo = postgres.NewEmissionRepository(pool)
	}

	// ── Blobs (contenedores PKCS#12 y DANFSe) ──
	blobs, err := blob.OpenBoltStore(cfg.Blob.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("abrir blob store")
	}
	defer blobs.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// ── Vault ──
	cipher, err := vault.NewPassphraseCipher(cfg.Vault.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("VAULT_SECRET")
	}
	credVault := credential.NewVault(credentialRepo, blobs, cipher, cfg.Blob.CredentialsBucket, log.Component("vault"))

	// ── Cliente mTLS de la autoridad ──
	client, err := infranfse.NewClient(infranfse.ClientConfig{
		SefinURL:      cfg.NFSE.SefinURL,
		ParametrosURL: cfg.NFSE.ParametrosURL,
		ADNURL:        cfg.NFSE.ADNURL,
		CertPath:      cfg.NFSE.ClientCertPath,
		KeyPath:       cfg.NFSE.ClientKeyPath,
		CertB64:       cfg.NFSE.ClientCertB64,
		CertPassword:  cfg.NFSE.ClientCertPass,
		CABundlePath:  cfg.NFSE.CABundlePath,
		Timeout:       cfg.NFSE.Timeout(),
		Observer:      m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("cliente NFS-e")
	}

	// ── Emisión ──
	emissionSvc := emission.NewService(emission.Deps{
		Emissions:   emissionRepo,
		Blobs:       blobs,
		Credentials: credVault,
		Builder:     infranfse.NewXMLBuilderService(cfg.NFSE.TipoAmbiente(), cfg.NFSE.AppVersion),
		Signer:      signer.NewDigitalSignatureService(),
		Authority:   client,
		Receipts:    infrapdf.NewReceiptGenerator(consultaURL),
		Observer:    m,
		Log:         log.Component("emission"),
	}, emission.Config{
		SignatureAlgorithm: alg,
		AcceptPrebuilt:     cfg.NFSE.AcceptPrebuilt,
	})

	// Lock del poller: Redis si hay varias instancias, si no local.
	var locker emission.Locker = lock.NewLocalLocker()
	if cfg.Redis.URL != "" {
		redisLocker, err := lock.NewRedisLocker(ctx, cfg.Redis.URL, cfg.Redis.LockTTL, log.Component("lock"))
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer redisLocker.Close()
		locker = redisLocker
	}
	poller := emission.NewPoller(emissionRepo, blobs, client, locker, m, emission.PollerConfig{
		BatchSize:       cfg.Scheduler.PollBatchSize,
		Concurrency:     cfg.Scheduler.PollConcurrency,
		DocumentsBucket: cfg.Blob.DocumentsBucket,
	}, log.Component("poller"))

	// Avisos de vencimiento: Kafka si hay brokers, si no solo log.
	var notifier credential.Notifier = notify.NewLogNotifier(log.Component("notify"))
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier, err := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.NotifyTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("cliente Kafka")
		}
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}
	monitor := credential.NewExpiryMonitor(credentialRepo, notifier, m, log.Component("expiry"))

	scheduler := emission.NewScheduler(log.Component("scheduler"))
	scheduler.Every("status-poller", cfg.Scheduler.PollInterval, func(ctx context.Context) error {
		_, err := poller.PollOnce(ctx)
		return err
	})
	scheduler.Every("certificate-expiry", cfg.Scheduler.ExpiryCheckInterval, func(ctx context.Context) error {
		_, err := monitor.CheckExpiring(ctx, cfg.Scheduler.ExpiryWithinDays)
		return err
	})
	// contexto propio: la señal no corta el ciclo en curso, Stop lo espera.
	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	scheduler.Start(jobsCtx)

	// ── HTTP ──
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.NFSE.Timeout() + 10*time.Second,
		IdleTimeout:  time.Second * 60,
		BodyLimit:    1 << 20,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath:    "/",
		FilePath:    "docs/swagger.json",
		FileContent: []byte(docs.SwaggerInfo.ReadDoc()),
		Path:        "docs",
		Title:       "NFS-e API",
	}))

	httpRouter.Router(app, httpRouter.RouterDeps{
		Emissions:   emissionSvc,
		Credentials: credVault,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		JWTSecret:   cfg.JWT.Secret,
		AppName:     cfg.App.Name,
		Log:         log.Component("http"),
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	// deja terminar el ciclo de polling en curso antes de cerrar pool y blobs.
	scheduler.Stop()

	log.Info().Msg("aplicación detenida")
}
