package provider

import (
	"context"
	"testing"

	"github.com/nautilus-run/pz/internal/testutil"
)

type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Start(ctx context.Context, req Request) (Stream, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, &APIError{StatusCode: 503, Body: "unavailable"}
	}
	return NewStaticStream([]Event{TextEvent("ok"), StopEvent(StopDone)}), nil
}

func TestIsTransientClassification(t *testing.T) {
	testutil.RequireTrue(t, IsTransient(&APIError{StatusCode: 429}), "429 should be transient")
	testutil.RequireTrue(t, IsTransient(&APIError{StatusCode: 503}), "503 should be transient")
	testutil.RequireTrue(t, !IsTransient(&APIError{StatusCode: 401}), "401 should be fatal")
	testutil.RequireTrue(t, !IsTransient(&APIError{StatusCode: 400}), "400 should be fatal")
}

func TestStartWithRetryRetriesTransientFailures(t *testing.T) {
	p := &flakyProvider{failures: 2}
	policy := RetryPolicy{MaxTries: 4, BaseMs: 1, MaxMs: 5, Multiplier: 2}

	stream, err := StartWithRetry(context.Background(), p, Request{Model: "m"}, policy)
	testutil.RequireNoError(t, err, "start with retry")
	testutil.RequireTrue(t, stream != nil, "stream should be returned")
	testutil.RequireEqual(t, p.calls, 3, "should retry until success")
}

func TestStartWithRetrySurfacesFatalImmediately(t *testing.T) {
	p := &flakyProvider{failures: 0}
	fatalProvider := failingProvider{err: &APIError{StatusCode: 401, Body: "unauthorized"}}
	policy := RetryPolicy{MaxTries: 4, BaseMs: 1, MaxMs: 5, Multiplier: 2}

	_, err := StartWithRetry(context.Background(), fatalProvider, Request{Model: "m"}, policy)
	testutil.RequireTrue(t, err != nil, "fatal error should surface")
	_ = p
}

type failingProvider struct{ err error }

func (f failingProvider) Start(ctx context.Context, req Request) (Stream, error) {
	return nil, f.err
}
