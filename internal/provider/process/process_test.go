package process

import (
	"context"
	"testing"

	"github.com/nautilus-run/pz/internal/provider"
	"github.com/nautilus-run/pz/internal/testutil"
)

func drain(t *testing.T, s provider.Stream) []provider.Event {
	t.Helper()
	var events []provider.Event
	for {
		e, ok, err := s.Next(context.Background())
		testutil.RequireNoError(t, err, "stream next")
		if !ok {
			return events
		}
		events = append(events, e)
	}
}

func TestProcessTransportTextProtocol(t *testing.T) {
	script := `cat >/dev/null; printf 'text:hello\nstop:done\n'`
	tr := New([]string{"bash", "-c", script})

	stream, err := tr.Start(context.Background(), provider.Request{Model: "m"})
	testutil.RequireNoError(t, err, "start")
	defer stream.Close()

	events := drain(t, stream)
	testutil.RequireTrue(t, len(events) == 2, "expected two events")
	testutil.RequireEqual(t, events[0].Kind, provider.EventText, "first event kind")
	testutil.RequireEqual(t, events[0].Text, "hello", "first event text")
	testutil.RequireEqual(t, events[1].Kind, provider.EventStop, "second event kind")
	testutil.RequireEqual(t, events[1].Stop, provider.StopDone, "second event stop reason")
}

func TestProcessTransportJSONL(t *testing.T) {
	script := `cat >/dev/null; printf '{"kind":"text","text":"hi"}\n{"kind":"stop","stop":"done"}\n'`
	tr := New([]string{"bash", "-c", script})

	stream, err := tr.Start(context.Background(), provider.Request{Model: "m"})
	testutil.RequireNoError(t, err, "start")
	defer stream.Close()

	events := drain(t, stream)
	testutil.RequireTrue(t, len(events) == 2, "expected two events")
	testutil.RequireEqual(t, events[0].Text, "hi", "jsonl text")
}

func TestProcessTransportStderrBecomesErr(t *testing.T) {
	script := `cat >/dev/null; echo boom 1>&2; printf 'stop:err\n'`
	tr := New([]string{"bash", "-c", script})

	stream, err := tr.Start(context.Background(), provider.Request{Model: "m"})
	testutil.RequireNoError(t, err, "start")
	defer stream.Close()

	events := drain(t, stream)
	var sawErr bool
	for _, e := range events {
		if e.Kind == provider.EventErr && e.Text == "boom" {
			sawErr = true
		}
	}
	testutil.RequireTrue(t, sawErr, "stderr line should surface as an err event")
}

func TestProcessTransportCloseDoesNotDeadlock(t *testing.T) {
	script := `cat >/dev/null; sleep 5; printf 'stop:done\n'`
	tr := New([]string{"bash", "-c", script})

	stream, err := tr.Start(context.Background(), provider.Request{Model: "m"})
	testutil.RequireNoError(t, err, "start")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = stream.Next(ctx)
	testutil.RequireTrue(t, err != nil, "canceled context should return an error, not hang")
	testutil.RequireNoError(t, stream.Close(), "close should not error")
}
