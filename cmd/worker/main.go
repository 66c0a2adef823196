package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/spans/internal/bootstrap"
	"github.com/OFFIS-RIT/spans/internal/queue"
	"github.com/OFFIS-RIT/spans/internal/storage"
	"github.com/OFFIS-RIT/spans/internal/util"
	"github.com/OFFIS-RIT/spans/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.ConfigFromEnv()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	engine, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open graph engine", "err", err)
	}
	defer engine.Close()

	var reports queue.ReportSink
	if bucket := util.GetEnv("AWS_BUCKET"); bucket != "" {
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		reports = storage.NewReportStore(client, bucket)
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	retryDelay := util.GetEnvSeconds("QUEUE_RETRY_DELAY_SECONDS", 10*time.Second)
	if err := queue.SetupQueues(ch, queue.Queues, retryDelay); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// One consumer channel with prefetch=1 so a single message is handled
	// at a time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}
	messageChan := make(chan queuedMessage)

	g, gctx := errgroup.WithContext(ctx)
	for _, queueName := range queue.Queues {
		g.Go(func() error {
			msgs, err := consumerCh.Consume(
				queueName,
				fmt.Sprintf("%s_consumer", queueName),
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				return fmt.Errorf("consume %s: %w", queueName, err)
			}

			for {
				select {
				case <-gctx.Done():
					logger.Info("Stopping consumer", "queue", queueName)
					return nil
				case msg, ok := <-msgs:
					if !ok {
						return fmt.Errorf("message channel of %s closed", queueName)
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: queueName}:
					case <-gctx.Done():
						_ = msg.Nack(false, true)
						return nil
					}
				}
			}
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				logger.Info("Stopping message processor")
				return nil
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.RepairQueueName:
					processingErr = queue.ProcessRepairMessage(gctx, engine.Graph, reports, qm.msg.Body)
				default:
					processingErr = fmt.Errorf("%w: no handler for queue %s", queue.ErrMalformedMessage, qm.queueName)
				}

				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(context.WithoutCancel(gctx), ch, qm.msg, qm.queueName, processingErr)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Second).String())
			}
		}
	})

	logger.Info("Listening for messages")
	if err := g.Wait(); err != nil {
		logger.Fatal("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
