// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logbatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/logpipe/lib/clock"
	"github.com/bureau-foundation/logpipe/lib/logservice"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakePusher records every batch it receives. Errors queued in fail
// are returned, in order, instead of accepting the batch.
type fakePusher struct {
	mu      sync.Mutex
	batches [][]logservice.Event
	fail    []error
	calls   int
}

func (p *fakePusher) Push(_ context.Context, events []logservice.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.fail) > 0 {
		err := p.fail[0]
		p.fail = p.fail[1:]
		return "", err
	}
	p.batches = append(p.batches, append([]logservice.Event(nil), events...))
	return "token-" + strconv.Itoa(len(p.batches)), nil
}

func (p *fakePusher) delivered() [][]logservice.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]logservice.Event(nil), p.batches...)
}

func (p *fakePusher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestEngine(t *testing.T) (*Engine, *fakePusher, *clock.FakeClock) {
	t.Helper()
	pusher := &fakePusher{}
	fakeClock := clock.Fake(epoch)
	return New(pusher, Options{Clock: fakeClock}), pusher, fakeClock
}

// checkSize verifies the running size equals the sum of pending event
// sizes.
func checkSize(t *testing.T, engine *Engine) {
	t.Helper()
	if got, want := engine.SizeBytes(), logservice.BatchSize(engine.Pending()); got != want {
		t.Fatalf("SizeBytes() = %d, sum of pending sizes = %d", got, want)
	}
}

func mustLog(t *testing.T, engine *Engine, message string) {
	t.Helper()
	if err := engine.Log(context.Background(), message); err != nil {
		t.Fatalf("Log(%q): %v", message, err)
	}
}

func TestLogAppendsInOrder(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)

	for _, message := range []string{"first", "second", "third"} {
		mustLog(t, engine, message)
	}
	checkSize(t, engine)

	ack, err := engine.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if ack.Events != 3 || ack.Token != "token-1" {
		t.Fatalf("ack = %+v", ack)
	}
	if ack.Bytes != len("first")+len("second")+len("third")+3*logservice.HeaderOverhead {
		t.Errorf("ack.Bytes = %d", ack.Bytes)
	}

	batches := pusher.delivered()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	for i, want := range []string{"first", "second", "third"} {
		if batches[0][i].Message != want {
			t.Errorf("event %d = %q, want %q", i, batches[0][i].Message, want)
		}
		if batches[0][i].Timestamp != epoch.UnixMilli() {
			t.Errorf("event %d timestamp = %d, want %d", i, batches[0][i].Timestamp, epoch.UnixMilli())
		}
	}
	if engine.Len() != 0 || engine.SizeBytes() != 0 {
		t.Fatalf("batch not cleared: len=%d size=%d", engine.Len(), engine.SizeBytes())
	}
}

func TestLogEmptyMessageIsIgnored(t *testing.T) {
	engine, pusher, fakeClock := newTestEngine(t)

	mustLog(t, engine, "old")
	fakeClock.Advance(time.Hour)

	// An empty message must not even evaluate thresholds: the stale
	// batch stays put.
	mustLog(t, engine, "")
	if err := engine.LogAt(context.Background(), "", 0); err != nil {
		t.Fatalf("LogAt empty: %v", err)
	}
	if pusher.callCount() != 0 {
		t.Fatalf("empty message triggered %d pushes", pusher.callCount())
	}
	if engine.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", engine.Len())
	}
}

func TestLogAtUsesSuppliedTimestamp(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	if err := engine.LogAt(context.Background(), "replayed", 1234); err != nil {
		t.Fatalf("LogAt: %v", err)
	}
	pending := engine.Pending()
	if len(pending) != 1 || pending[0].Timestamp != 1234 {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestFlushEmptyMakesNoCall(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)

	for range 3 {
		ack, err := engine.Flush(context.Background())
		if err != nil {
			t.Fatalf("Flush: %v", err)
		}
		if ack != (Ack{}) {
			t.Fatalf("ack = %+v, want zero", ack)
		}
	}
	if pusher.callCount() != 0 {
		t.Fatalf("empty flush made %d calls", pusher.callCount())
	}
}

func TestSizeThreshold(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)

	// Each event accounts for exactly 100000 bytes. Nine of them reach
	// 900000, past 80% of 1 MiB; eight (800000) do not.
	message := strings.Repeat("s", 100000-logservice.HeaderOverhead)
	for range 9 {
		mustLog(t, engine, message)
	}
	if pusher.callCount() != 0 {
		t.Fatalf("flushed before the size threshold: %d calls", pusher.callCount())
	}
	checkSize(t, engine)

	mustLog(t, engine, "trigger")

	batches := pusher.delivered()
	if len(batches) != 1 || len(batches[0]) != 9 {
		t.Fatalf("batches = %d, want one batch of 9", len(batches))
	}
	pending := engine.Pending()
	if len(pending) != 1 || pending[0].Message != "trigger" {
		t.Fatalf("pending = %+v, want only the triggering event", pending)
	}
	checkSize(t, engine)
}

func TestSizeThresholdBoundary(t *testing.T) {
	tests := []struct {
		name      string
		sizeBytes int
		want      Reason
	}{
		{"just below", 838860, ReasonNone},
		{"first integer at or above 838860.8", 838861, ReasonSize},
		{"hard limit", logservice.MaxBatchBytes, ReasonSize},
	}
	limits := DefaultLimits()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := limits.Check(0, 0, test.sizeBytes, 1); got != test.want {
				t.Fatalf("Check(size=%d) = %s, want %s", test.sizeBytes, got, test.want)
			}
		})
	}
}

func TestCountThreshold(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)

	for i := range 990 {
		mustLog(t, engine, fmt.Sprintf("line %d", i))
	}
	if pusher.callCount() != 0 {
		t.Fatalf("flushed at %d events", engine.Len())
	}
	if engine.Len() != 990 {
		t.Fatalf("Len() = %d, want 990", engine.Len())
	}

	mustLog(t, engine, "line 990")

	batches := pusher.delivered()
	if len(batches) != 1 || len(batches[0]) != 990 {
		t.Fatalf("want one batch of 990 events, got %d batches", len(batches))
	}
	if batches[0][989].Message != "line 989" {
		t.Errorf("last flushed event = %q", batches[0][989].Message)
	}
	if engine.Len() != 1 || engine.Pending()[0].Message != "line 990" {
		t.Fatalf("pending = %+v", engine.Pending())
	}
}

func TestTimeThreshold(t *testing.T) {
	engine, pusher, fakeClock := newTestEngine(t)

	mustLog(t, engine, "a")
	fakeClock.Advance(29999 * time.Millisecond)
	mustLog(t, engine, "b")
	if pusher.callCount() != 0 {
		t.Fatal("flushed before the batch was 30s old")
	}

	fakeClock.Advance(time.Millisecond)
	mustLog(t, engine, "c")

	batches := pusher.delivered()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch [a b]", batches)
	}
	if batches[0][0].Message != "a" || batches[0][1].Message != "b" {
		t.Fatalf("batch = %+v", batches[0])
	}
	pending := engine.Pending()
	if len(pending) != 1 || pending[0].Message != "c" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestTimeThresholdUsesOldestTimestamp(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)

	// A replayed event far in the past makes the batch stale at once.
	if err := engine.LogAt(context.Background(), "replayed", epoch.UnixMilli()-60000); err != nil {
		t.Fatalf("LogAt: %v", err)
	}
	mustLog(t, engine, "live")

	if pusher.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", pusher.callCount())
	}
}

func TestTimeThresholdIgnoresEmptyBatch(t *testing.T) {
	if got := DefaultLimits().Check(1_000_000, 0, 0, 0); got != ReasonNone {
		t.Fatalf("Check on empty batch = %s, want none", got)
	}

	engine, pusher, fakeClock := newTestEngine(t)
	fakeClock.Advance(time.Hour)
	mustLog(t, engine, "only")
	if pusher.callCount() != 0 {
		t.Fatal("empty batch triggered a flush")
	}
}

func TestThresholdOrder(t *testing.T) {
	limits := DefaultLimits()
	// Every threshold is crossed; age wins.
	if got := limits.Check(40000, 0, logservice.MaxBatchBytes, 999); got != ReasonAge {
		t.Fatalf("Check = %s, want age", got)
	}
	// Size and count crossed; size wins.
	if got := limits.Check(0, 0, logservice.MaxBatchBytes, 999); got != ReasonSize {
		t.Fatalf("Check = %s, want size", got)
	}
}

func TestFlushFailureRetainsBatch(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)
	pusher.fail = []error{errors.New("connection reset")}

	mustLog(t, engine, "one")
	mustLog(t, engine, "two")
	before := engine.Pending()
	sizeBefore := engine.SizeBytes()

	if _, err := engine.Flush(context.Background()); err == nil {
		t.Fatal("Flush succeeded, want error")
	}
	after := engine.Pending()
	if len(after) != len(before) || after[0] != before[0] || after[1] != before[1] {
		t.Fatalf("batch changed after failed flush: %+v", after)
	}
	if engine.SizeBytes() != sizeBefore {
		t.Fatalf("SizeBytes changed: %d -> %d", sizeBefore, engine.SizeBytes())
	}

	ack, err := engine.Flush(context.Background())
	if err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if ack.Events != 2 {
		t.Fatalf("retry delivered %d events, want 2", ack.Events)
	}
}

func TestThresholdFlushFailureDoesNotAppend(t *testing.T) {
	engine, pusher, fakeClock := newTestEngine(t)
	pushErr := errors.New("service unavailable")
	pusher.fail = []error{pushErr}

	mustLog(t, engine, "stale")
	fakeClock.Advance(time.Minute)

	err := engine.Log(context.Background(), "rejected")
	if !errors.Is(err, pushErr) {
		t.Fatalf("Log = %v, want wrapped push error", err)
	}
	pending := engine.Pending()
	if len(pending) != 1 || pending[0].Message != "stale" {
		t.Fatalf("pending = %+v, want only the retained batch", pending)
	}
	checkSize(t, engine)
}

func TestCloseFlushesAndRejectsLog(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)
	mustLog(t, engine, "last words")

	ack, err := engine.Close(context.Background())
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ack.Events != 1 || len(pusher.delivered()) != 1 {
		t.Fatalf("Close ack = %+v, batches = %d", ack, len(pusher.delivered()))
	}

	if err := engine.Log(context.Background(), "too late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Log after Close = %v, want ErrClosed", err)
	}
	if engine.Len() != 0 {
		t.Fatalf("Len() = %d after Close", engine.Len())
	}
}

func TestCloseFailureKeepsPending(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)
	pusher.fail = []error{errors.New("down"), errors.New("still down")}
	mustLog(t, engine, "undelivered")

	if _, err := engine.Close(context.Background()); err == nil {
		t.Fatal("Close succeeded, want error")
	}
	if pending := engine.Pending(); len(pending) != 1 {
		t.Fatalf("pending = %+v, want the undelivered event", pending)
	}
	if _, err := engine.Flush(context.Background()); err == nil {
		t.Fatal("second flush consumed a scripted failure but succeeded")
	}
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	pusher := &fakePusher{}
	limits := DefaultLimits()
	limits.MaxCount = 50
	limits.CountFraction = 1
	engine := New(pusher, Options{Clock: clock.Fake(epoch), Limits: limits})

	const producers, perProducer = 8, 100
	var wait sync.WaitGroup
	for p := range producers {
		wait.Add(1)
		go func() {
			defer wait.Done()
			for i := range perProducer {
				if err := engine.Log(context.Background(), fmt.Sprintf("%d:%d", p, i)); err != nil {
					t.Errorf("Log: %v", err)
					return
				}
			}
		}()
	}
	wait.Wait()
	if _, err := engine.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	next := make(map[int]int)
	total := 0
	for _, batch := range pusher.delivered() {
		if len(batch) > 50 {
			t.Fatalf("batch of %d events exceeds the count limit", len(batch))
		}
		for _, event := range batch {
			var producer, index int
			if _, err := fmt.Sscanf(event.Message, "%d:%d", &producer, &index); err != nil {
				t.Fatalf("bad message %q: %v", event.Message, err)
			}
			if index != next[producer] {
				t.Fatalf("producer %d: got index %d, want %d", producer, index, next[producer])
			}
			next[producer]++
			total++
		}
	}
	if total != producers*perProducer {
		t.Fatalf("delivered %d events, want %d", total, producers*perProducer)
	}
}

func TestEngineWithDeliveryClient(t *testing.T) {
	ctx := context.Background()
	memory := logservice.NewMemory()
	client, err := logservice.Open(ctx, memory, "group", "stream", logservice.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	engine := New(client, Options{Clock: clock.Fake(epoch)})

	mustLog(t, engine, "hello")
	first, err := engine.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mustLog(t, engine, "world")
	second, err := engine.Close(ctx)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if first.Token == second.Token || second.Token != client.Token() {
		t.Fatalf("tokens: first=%q second=%q client=%q", first.Token, second.Token, client.Token())
	}
	events := memory.Events("group", "stream")
	if len(events) != 2 || events[0].Message != "hello" || events[1].Message != "world" {
		t.Fatalf("delivered = %+v", events)
	}
}

func TestReasonString(t *testing.T) {
	for reason, want := range map[Reason]string{
		ReasonNone:     "none",
		ReasonAge:      "age",
		ReasonSize:     "size",
		ReasonCount:    "count",
		ReasonOverflow: "overflow",
		Reason(42):     "reason(42)",
	} {
		if got := reason.String(); got != want {
			t.Errorf("Reason(%d).String() = %q, want %q", int(reason), got, want)
		}
	}
}

func TestOverflowFlushesBeforeThreshold(t *testing.T) {
	engine, pusher, _ := newTestEngine(t)

	// 700000 bytes is under the size threshold, but a 400000-byte event
	// would take the batch past the 1 MiB hard limit.
	mustLog(t, engine, strings.Repeat("a", 700000-logservice.HeaderOverhead))
	mustLog(t, engine, strings.Repeat("b", 400000-logservice.HeaderOverhead))

	batches := pusher.delivered()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("want the first event flushed alone, got %d batches", len(batches))
	}
	if engine.SizeBytes() != 400000 {
		t.Fatalf("SizeBytes() = %d, want 400000", engine.SizeBytes())
	}
}

func TestAppendNeverPushes(t *testing.T) {
	engine, pusher, fakeClock := newTestEngine(t)

	mustLog(t, engine, "stale")
	fakeClock.Advance(time.Hour)
	if err := engine.Append("error: connection refused"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if pusher.callCount() != 0 {
		t.Fatal("Append pushed")
	}
	pending := engine.Pending()
	if len(pending) != 2 || pending[1].Timestamp != fakeClock.Now().UnixMilli() {
		t.Fatalf("pending = %+v", pending)
	}
	checkSize(t, engine)
}

func TestAppendRejectsOverflow(t *testing.T) {
	pusher := &fakePusher{}
	limits := DefaultLimits()
	limits.MaxCount = 2
	limits.CountFraction = 1
	engine := New(pusher, Options{Clock: clock.Fake(epoch), Limits: limits})

	for _, message := range []string{"one", "two"} {
		if err := engine.Append(message); err != nil {
			t.Fatalf("Append(%q): %v", message, err)
		}
	}
	if err := engine.Append("three"); !errors.Is(err, ErrFull) {
		t.Fatalf("Append over the count limit = %v, want ErrFull", err)
	}

	if _, err := engine.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := engine.Append("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Append after Close = %v, want ErrClosed", err)
	}
}
