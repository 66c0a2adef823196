package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/spans/internal/util"
	"github.com/OFFIS-RIT/spans/pkg/graph"
	"github.com/OFFIS-RIT/spans/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const RepairQueueName = "repair_queue"

// Queues lists every work queue the worker consumes.
var Queues = []string{RepairQueueName}

// ErrMalformedMessage marks messages that can never succeed. They go to
// the dead-letter queue without retries.
var ErrMalformedMessage = errors.New("malformed message")

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnv("RABBITMQ_PORT")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := util.RetryWithContext(context.Background(), 5, 2*time.Second,
		func(context.Context) (*amqp091.Connection, error) {
			return amqp091.Dial(connURL)
		})
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// SetupQueues declares each queue with its dead-letter queue and a retry
// queue that dead-letters back into the work queue after retryDelay.
func SetupQueues(ch declarer, queueNames []string, retryDelay time.Duration) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}

	return nil
}

func PublishFIFO(ctx context.Context, ch publisher, queueName string, data []byte, headers amqp091.Table) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		publishing,
	)
}

func EncodeRepairRequest(req graph.RepairRequest) ([]byte, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("%w: run id is empty", ErrMalformedMessage)
	}
	return json.Marshal(req)
}

func DecodeRepairRequest(body []byte) (graph.RepairRequest, error) {
	var req graph.RepairRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if req.RunID == "" {
		return req, fmt.Errorf("%w: run id is empty", ErrMalformedMessage)
	}
	return req, nil
}

// RepairPublisher queues repair runs on repair_queue. It satisfies
// graph.RepairQueue.
type RepairPublisher struct {
	mu sync.Mutex
	ch publisher
}

func NewRepairPublisher(ch *amqp091.Channel) *RepairPublisher {
	return &RepairPublisher{ch: ch}
}

func (p *RepairPublisher) PublishRepair(ctx context.Context, req graph.RepairRequest) error {
	body, err := EncodeRepairRequest(req)
	if err != nil {
		return err
	}
	// amqp channels must not publish concurrently
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := PublishFIFO(ctx, p.ch, RepairQueueName, body, nil); err != nil {
		return fmt.Errorf("publish repair run %s: %w", req.RunID, err)
	}
	logger.Debug("[Queue] Published repair run", "run_id", req.RunID)
	return nil
}
