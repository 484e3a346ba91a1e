package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/retina-search/retina/engine/domain"
	"github.com/retina-search/retina/pkg/fn"
	"github.com/retina-search/retina/pkg/natsutil"
)

const (
	// JobSubject is the NATS subject for folder indexing jobs.
	JobSubject = "retina.index"
	// DLQSubject receives jobs that exhausted their retries.
	DLQSubject = "retina.index.dlq"
	// MaxJobRetries before a job is dead-lettered.
	MaxJobRetries = 3
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Job   domain.IndexJob `json:"job"`
	Error string          `json:"error"`
}

// publishFn republishes a failed job or dead-letters it. Wraps
// natsutil.Publish in production; tests substitute a recorder.
type publishFn func(ctx context.Context, subject string, v any) error

// jobStage wraps folder indexing as a traced pipeline stage.
func jobStage(x *Indexer) fn.Stage[domain.IndexJob, domain.IndexReport] {
	return fn.TracedStage("ingest.index_folder", func(ctx context.Context, job domain.IndexJob) fn.Result[domain.IndexReport] {
		return fn.FromPair(x.IndexFolder(ctx, job.Root))
	})
}

// consumeJob runs one job and decides its fate on failure: republish
// with an incremented retry count, or dead-letter once retries are
// exhausted.
func consumeJob(ctx context.Context, stage fn.Stage[domain.IndexJob, domain.IndexReport], job domain.IndexJob, pub publishFn, logger *slog.Logger) {
	report, err := stage(ctx, job).Unwrap()
	if err == nil {
		logger.Info("index job done",
			"root", job.Root,
			"indexed", report.Indexed,
			"skipped", len(report.Skipped),
		)
		return
	}

	job.Retries++
	logger.Error("index job failed", "root", job.Root, "retry", job.Retries, "err", err)

	if job.Retries >= MaxJobRetries {
		if perr := pub(ctx, DLQSubject, dlqMessage{Job: job, Error: err.Error()}); perr != nil {
			logger.Error("index job: DLQ publish failed", "err", perr)
		}
		return
	}
	if perr := pub(ctx, JobSubject, job); perr != nil {
		logger.Error("index job: retry publish failed", "err", perr)
	}
}

// StartConsumer subscribes to JobSubject and runs each job through the
// indexer with retry and DLQ support. Trace context travels with the
// job: extracted from incoming message headers and re-injected on
// republish, so a retried job stays in its originating trace.
func StartConsumer(nc *nats.Conn, x *Indexer, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stage := jobStage(x)
	pub := func(ctx context.Context, subject string, v any) error {
		return natsutil.Publish(ctx, nc, subject, v)
	}

	return natsutil.Subscribe(nc, JobSubject, func(ctx context.Context, job domain.IndexJob) {
		consumeJob(ctx, stage, job, pub, logger)
	})
}
