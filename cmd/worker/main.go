package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/app"
	"github.com/imrishuroy/go-webhook-relay/internal/aws"
	"github.com/imrishuroy/go-webhook-relay/internal/config"
	"github.com/imrishuroy/go-webhook-relay/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Events.QueueURL == "" {
		log.Fatal("events.queue_url is required")
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init app", zap.Error(err))
	}
	defer func() { _ = a.Close() }()
	logger.Info("event handlers registered", zap.Strings("events", a.Registry.Names()))

	consumer := &aws.Consumer{
		SQS:         a.AWS.SQS,
		QueueURL:    cfg.Events.QueueURL,
		Processor:   a.Processor,
		Concurrency: cfg.Worker.Concurrency,
		WaitSeconds: int32(cfg.Worker.WaitSeconds),
		Logger:      logger.Named("consumer"),
	}

	// If server.run_local (or RUN_LOCAL) is set, poll SQS directly and run the periodic jobs here.
	if cfg.Server.RunLocal {
		scheduler, err := a.Scheduler(ctx)
		if err != nil {
			logger.Fatal("failed to init scheduler", zap.Error(err))
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()

		if err := consumer.Run(ctx); err != nil {
			logger.Error("consumer stopped", zap.Error(err))
		}
		return
	}

	// Lambda reports failed records back to SQS as partial batch failures.
	lambda.Start(consumer.HandleSQSEvent)
}
