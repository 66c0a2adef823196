package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/spans/internal/util"
	"github.com/OFFIS-RIT/spans/pkg/graph"
	"github.com/OFFIS-RIT/spans/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	MaxRetries    = 10
	retriesHeader = "x-retries"

	reportUploadTries = 3
)

// RepairRunner executes a queued repair run.
type RepairRunner interface {
	RunRepair(ctx context.Context, runID string) (graph.RepairReport, error)
}

// ReportSink archives finished repair reports.
type ReportSink interface {
	PutRepairReport(ctx context.Context, report graph.RepairReport) (string, error)
}

// ProcessRepairMessage runs the repair named in body. Runs that already
// finished are acknowledged without work so redeliveries are harmless.
// reports may be nil.
func ProcessRepairMessage(ctx context.Context, runner RepairRunner, reports ReportSink, body []byte) error {
	req, err := DecodeRepairRequest(body)
	if err != nil {
		return err
	}

	report, err := runner.RunRepair(ctx, req.RunID)
	if errors.Is(err, graph.ErrRepairFinished) {
		logger.Warn("[Queue] Repair run already finished, skipping", "run_id", req.RunID, "status", report.Run.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("repair run %s: %w", req.RunID, err)
	}

	if reports != nil {
		key, err := util.RetryWithContext(ctx, reportUploadTries, time.Second,
			func(ctx context.Context) (string, error) {
				return reports.PutRepairReport(ctx, report)
			})
		if err != nil {
			// the run itself is committed, a retry would be a no-op
			logger.Warn("[Queue] Failed to archive repair report", "run_id", req.RunID, "err", err)
		} else {
			logger.Info("[Queue] Archived repair report", "run_id", req.RunID, "key", key)
		}
	}

	logger.Info("[Queue] Repair run processed",
		"run_id", req.RunID, "actor", req.ActorID, "deleted", report.Run.DeletedCount)
	return nil
}

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// HandleProcessingError sends a failed delivery to the retry queue, or to
// the dead-letter queue once MaxRetries is reached or the message is
// malformed. The delivery is acked once the copy is published.
func HandleProcessingError(ctx context.Context, ch publisher, msg amqp091.Delivery, queueName string, procErr error) {
	retries := retryCount(msg.Headers)

	if retries >= MaxRetries || errors.Is(procErr, ErrMalformedMessage) {
		dlqName := queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		if err := PublishFIFO(ctx, ch, dlqName, msg.Body, msg.Headers); err != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", err)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	if err := PublishFIFO(ctx, ch, retryName, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
