package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/panjf2000/ants/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/mahirjain10/brainscan-workers/config"
	"github.com/mahirjain10/brainscan-workers/internal/aws"
	"github.com/mahirjain10/brainscan-workers/internal/ensemble"
	"github.com/mahirjain10/brainscan-workers/internal/logging"
	"github.com/mahirjain10/brainscan-workers/internal/pipeline"
	"github.com/mahirjain10/brainscan-workers/internal/queue"
	"github.com/mahirjain10/brainscan-workers/internal/retry"
	"github.com/mahirjain10/brainscan-workers/internal/staging"
	"github.com/mahirjain10/brainscan-workers/internal/statusapi"
	"github.com/mahirjain10/brainscan-workers/internal/store"
	"github.com/mahirjain10/brainscan-workers/internal/validator"
)

// App holds the dependencies shared by every command.
type App struct {
	config *config.Config
	store  store.Store
	area   staging.Area

	rabbitMqConn *amqp.Connection
	pool         *ants.Pool
}

// NewApp loads configuration and opens the store and staging backends.
func NewApp(ctx context.Context) (*App, error) {
	envConfig, err := config.InitializeEnvs()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize environment config: %w", err)
	}
	logging.Init(envConfig.LogLevel, envConfig.LogFormat)

	var awsConfig awssdk.Config
	if envConfig.NeedsAws() {
		awsConfig, err = config.InitializeAws(ctx, envConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AWS config: %w", err)
		}
	}

	app := &App{config: envConfig}

	switch envConfig.StoreBackend {
	case config.StoreDynamo:
		app.store = store.NewDynamoStore(aws.NewDynamoClient(awsConfig, envConfig.AwsEndpoint), envConfig.DynamoTable)
	default:
		badgerStore, err := store.OpenBadger(envConfig.BadgerPath, false)
		if err != nil {
			return nil, err
		}
		app.store = badgerStore
	}

	switch envConfig.StagingBackend {
	case config.StagingS3:
		s3Service := aws.NewS3Service(aws.NewS3Client(awsConfig, envConfig.AwsEndpoint), envConfig.AwsBucketName, aws.DefaultOperationTimeout)
		app.area = staging.NewS3Area(s3Service)
	default:
		dir, err := filepath.Abs(envConfig.StagingDir)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("resolve staging dir: %w", err)
		}
		localArea, err := staging.NewLocalArea(dir)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.area = localArea
	}
	return app, nil
}

// connectRabbitMQ opens the connection used for publishing.
func (a *App) connectRabbitMQ() (*amqp.Channel, error) {
	if a.rabbitMqConn == nil || a.rabbitMqConn.IsClosed() {
		conn, err := queue.NewRabbitMQClient(a.config.RabbitMqURL)
		if err != nil {
			return nil, err
		}
		a.rabbitMqConn = conn
	}
	return queue.NewChannel(a.rabbitMqConn)
}

func (a *App) newVision(ctx context.Context) (validator.Vision, error) {
	cfg := a.config
	switch cfg.VisionProvider {
	case config.VisionOllama:
		return validator.NewOllamaVision(cfg.VisionBaseURL, cfg.VisionModel)
	case config.VisionOpenAI:
		return validator.NewOpenAIVision(cfg.VisionBaseURL, cfg.OpenAIAPIKey, cfg.VisionModel)
	default:
		return validator.NewGeminiVision(ctx, cfg.GeminiAPIKey, cfg.VisionModel)
	}
}

func (a *App) newValidator(ctx context.Context) (*validator.Validator, error) {
	vision, err := a.newVision(ctx)
	if err != nil {
		return nil, err
	}
	opts := []validator.Option{validator.WithTimeout(a.config.ValidatorTimeout)}
	if a.config.ValidatorJudgment == config.JudgmentWords {
		opts = append(opts, validator.WithJudgment(validator.NewKeywordJudgment(validator.DefaultAffirmative, validator.DefaultNegative)))
	}
	if a.config.ValidatorSystemPrompt != "" {
		opts = append(opts, validator.WithSystemPrompt(a.config.ValidatorSystemPrompt))
	}
	return validator.New(vision, opts...), nil
}

func (a *App) newEnsemble(pool *config.ModelPool) (*ensemble.Ensemble, error) {
	workers, err := ants.NewPool(a.config.EnsemblePoolSize)
	if err != nil {
		return nil, fmt.Errorf("create ensemble pool: %w", err)
	}
	a.pool = workers

	client := &http.Client{}
	models := make([]ensemble.Model, 0, len(pool.Models))
	for _, m := range pool.Models {
		timeout := m.Timeout
		if timeout <= 0 {
			timeout = a.config.PredictionTimeout
		}
		models = append(models, ensemble.NewRemoteModel(m.Name, m.Head, m.URL, pool.Labels, timeout, client))
	}
	return ensemble.New(pool.Labels, pool.NegativeLabel, models, workers, a.retryPolicy())
}

func (a *App) retryPolicy() retry.Policy {
	return retry.Policy{Attempts: a.config.RetryAttempts, Delay: a.config.RetryDelay}
}

// NewWorker builds the consumer, its orchestrator and the status server.
func (a *App) NewWorker(ctx context.Context) (*queue.RabbitMqService, *http.Server, error) {
	cfg := a.config

	modelPool, err := config.LoadModelPool(cfg.ModelsFile)
	if err != nil {
		return nil, nil, err
	}
	v, err := a.newValidator(ctx)
	if err != nil {
		return nil, nil, err
	}
	classifier, err := a.newEnsemble(modelPool)
	if err != nil {
		return nil, nil, err
	}

	ch, err := a.connectRabbitMQ()
	if err != nil {
		return nil, nil, err
	}
	if err := queue.SetupStatusExchange(ch, cfg.StatusExchange, cfg.StatusQueue); err != nil {
		return nil, nil, err
	}
	notifier := queue.NewStatusNotifier(queue.NewPublisher(ch), cfg.StatusExchange)

	orchestrator := pipeline.NewOrchestrator(a.store, a.area, v, classifier,
		pipeline.WithNotifier(notifier),
		pipeline.WithValidationPolicy(a.retryPolicy()),
	)

	consumer := queue.NewRabbitMqService(queue.ConsumerConfig{
		URL:               cfg.RabbitMqURL,
		Queue:             cfg.DispatchQueue,
		Workers:           cfg.WorkerCount,
		Prefetch:          cfg.Prefetch,
		ReconnectInterval: cfg.ReconnectInterval,
		ShutdownGrace:     cfg.ShutdownGrace,
	}, orchestrator)

	logging.NewStartupLogger("brainscan-worker").
		Queue("dispatch", cfg.DispatchQueue).
		Queue("status", cfg.StatusQueue).
		Config("status_exchange", cfg.StatusExchange).
		Table("store", a.storeName()).
		Bucket("staging", a.area.Name()).
		Config("vision", v.Name()).
		Config("workers", fmt.Sprint(cfg.WorkerCount)).
		Config("status_addr", cfg.StatusAddr).
		Models(modelPool.Names()...).
		Log()

	return consumer, a.statusServer(), nil
}

func (a *App) statusServer() *http.Server {
	return &http.Server{
		Addr:    a.config.StatusAddr,
		Handler: statusapi.NewServer(a.store),
	}
}

func (a *App) storeName() string {
	if a.config.StoreBackend == config.StoreDynamo {
		return "dynamo:" + a.config.DynamoTable
	}
	return "badger:" + a.config.BadgerPath
}

// Close releases everything NewApp and NewWorker opened.
func (a *App) Close() error {
	var errs []error
	if a.pool != nil {
		a.pool.Release()
	}
	if a.rabbitMqConn != nil && !a.rabbitMqConn.IsClosed() {
		if err := a.rabbitMqConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	return nil
}
