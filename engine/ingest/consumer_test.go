package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/retina-search/retina/engine/domain"
	"github.com/retina-search/retina/pkg/fn"
)

type published struct {
	subject string
	payload any
}

func recordingPub(calls *[]published) publishFn {
	return func(_ context.Context, subject string, v any) error {
		*calls = append(*calls, published{subject: subject, payload: v})
		return nil
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okStage(report domain.IndexReport) fn.Stage[domain.IndexJob, domain.IndexReport] {
	return func(context.Context, domain.IndexJob) fn.Result[domain.IndexReport] {
		return fn.Ok(report)
	}
}

func failStage(err error) fn.Stage[domain.IndexJob, domain.IndexReport] {
	return func(context.Context, domain.IndexJob) fn.Result[domain.IndexReport] {
		return fn.Err[domain.IndexReport](err)
	}
}

func TestConsumeJobSuccessPublishesNothing(t *testing.T) {
	var calls []published
	consumeJob(context.Background(), okStage(domain.IndexReport{Indexed: 3}),
		domain.IndexJob{Root: "/images"}, recordingPub(&calls), quiet())

	if len(calls) != 0 {
		t.Fatalf("successful job must not republish, got %v", calls)
	}
}

func TestConsumeJobFailureRepublishesWithRetryCount(t *testing.T) {
	var calls []published
	consumeJob(context.Background(), failStage(errors.New("boom")),
		domain.IndexJob{Root: "/images"}, recordingPub(&calls), quiet())

	if len(calls) != 1 {
		t.Fatalf("publishes = %d, want 1", len(calls))
	}
	if calls[0].subject != JobSubject {
		t.Fatalf("subject = %s, want %s", calls[0].subject, JobSubject)
	}
	job, ok := calls[0].payload.(domain.IndexJob)
	if !ok {
		t.Fatalf("payload = %T, want IndexJob", calls[0].payload)
	}
	if job.Retries != 1 || job.Root != "/images" {
		t.Fatalf("republished job = %+v", job)
	}
}

func TestConsumeJobExhaustedRetriesDeadLetters(t *testing.T) {
	var calls []published
	consumeJob(context.Background(), failStage(errors.New("boom")),
		domain.IndexJob{Root: "/images", Retries: MaxJobRetries - 1}, recordingPub(&calls), quiet())

	if len(calls) != 1 {
		t.Fatalf("publishes = %d, want 1", len(calls))
	}
	if calls[0].subject != DLQSubject {
		t.Fatalf("subject = %s, want DLQ", calls[0].subject)
	}
	dlq, ok := calls[0].payload.(dlqMessage)
	if !ok {
		t.Fatalf("payload = %T, want dlqMessage", calls[0].payload)
	}
	if dlq.Job.Retries != MaxJobRetries || dlq.Error != "boom" {
		t.Fatalf("dlq message = %+v", dlq)
	}
}
