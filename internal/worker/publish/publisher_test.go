package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hitoshi/fitbattle/internal/leaderboard"
	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/notify"
)

// --- モック定義 ---

type mockWriter struct {
	mu        sync.Mutex
	writeFunc func(ctx context.Context, topic string, msgs ...kafka.Message) error
	topics    []string
	messages  []kafka.Message
}

func (m *mockWriter) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	m.mu.Lock()
	m.topics = append(m.topics, topic)
	m.messages = append(m.messages, msgs...)
	fn := m.writeFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, topic, msgs...)
	}
	return nil
}

func (m *mockWriter) snapshot() ([]string, []kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...), append([]kafka.Message(nil), m.messages...)
}

type mockMetrics struct {
	mu      sync.Mutex
	results []bool
}

func (m *mockMetrics) RecordSnapshotPublished(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, success)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func noSleep(context.Context, time.Duration) error { return nil }

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPublishSnapshot_WritesVersionKeyedJSON(t *testing.T) {
	var buf bytes.Buffer
	w := &mockWriter{}
	m := &mockMetrics{}
	p := NewPublisher(w, Options{SnapshotTopic: "snapshots", Logger: newTestLogger(&buf), Metrics: m})

	snap := model.Snapshot{
		Version:         7,
		Rankings:        []model.RankingEntry{{Name: "강동훈", Score: 8.3}},
		TotalActivities: 1,
		ComputedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := p.PublishSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("PublishSnapshot returned error: %v", err)
	}

	topics, msgs := w.snapshot()
	if len(msgs) != 1 || topics[0] != "snapshots" {
		t.Fatalf("expected 1 message to snapshots, got topics=%v", topics)
	}
	if string(msgs[0].Key) != "7" {
		t.Errorf("key = %q, want %q", msgs[0].Key, "7")
	}
	if got := header(msgs[0], "event-type"); got != EventSnapshot {
		t.Errorf("event-type = %q, want %q", got, EventSnapshot)
	}
	var decoded model.Snapshot
	if err := json.Unmarshal(msgs[0].Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Version != 7 || decoded.Rankings[0].Name != "강동훈" {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(m.results) != 1 || !m.results[0] {
		t.Errorf("metrics = %v, want [true]", m.results)
	}
}

func TestPublishSnapshot_RetriesThenSucceeds(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	w := &mockWriter{writeFunc: func(context.Context, string, ...kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("broker not available")
		}
		return nil
	}}
	p := NewPublisher(w, Options{Logger: newTestLogger(&buf), sleep: noSleep})

	if err := p.PublishSnapshot(context.Background(), model.Snapshot{Version: 1}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPublishSnapshot_GivesUpAfterMaxAttempts(t *testing.T) {
	var buf bytes.Buffer
	w := &mockWriter{writeFunc: func(context.Context, string, ...kafka.Message) error {
		return errors.New("broker not available")
	}}
	m := &mockMetrics{}
	p := NewPublisher(w, Options{MaxAttempts: 2, Logger: newTestLogger(&buf), Metrics: m, sleep: noSleep})

	if err := p.PublishSnapshot(context.Background(), model.Snapshot{Version: 1}); err == nil {
		t.Fatal("expected error")
	}
	_, msgs := w.snapshot()
	if len(msgs) != 2 {
		t.Errorf("attempts = %d, want 2", len(msgs))
	}
	if len(m.results) != 1 || m.results[0] {
		t.Errorf("metrics = %v, want [false]", m.results)
	}
}

func TestPublishSnapshot_StopsRetryingWhenContextCanceled(t *testing.T) {
	var buf bytes.Buffer
	w := &mockWriter{writeFunc: func(context.Context, string, ...kafka.Message) error {
		return errors.New("broker not available")
	}}
	p := NewPublisher(w, Options{Logger: newTestLogger(&buf)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.PublishSnapshot(ctx, model.Snapshot{Version: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestShare_WritesToShareTopic(t *testing.T) {
	var buf bytes.Buffer
	w := &mockWriter{}
	p := NewPublisher(w, Options{ShareTopic: "shares", Logger: newTestLogger(&buf)})

	msg := leaderboard.NewShareMessage(model.ShareSummary{TopName: "권영근", TopScore: 12.5, TotalActivities: 3})
	if err := p.Share(context.Background(), msg); err != nil {
		t.Fatalf("Share returned error: %v", err)
	}

	topics, msgs := w.snapshot()
	if len(msgs) != 1 || topics[0] != "shares" {
		t.Fatalf("expected 1 message to shares, got %v", topics)
	}
	if got := header(msgs[0], "event-type"); got != EventShare {
		t.Errorf("event-type = %q, want %q", got, EventShare)
	}
	var decoded leaderboard.ShareMessage
	if err := json.Unmarshal(msgs[0].Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Title != leaderboard.ShareTitle || decoded.Summary.TopName != "권영근" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestShare_FailureIsBackendUnavailable(t *testing.T) {
	var buf bytes.Buffer
	w := &mockWriter{writeFunc: func(context.Context, string, ...kafka.Message) error {
		return errors.New("broker not available")
	}}
	p := NewPublisher(w, Options{Logger: newTestLogger(&buf), sleep: noSleep})

	err := p.Share(context.Background(), leaderboard.NewShareMessage(model.ShareSummary{}))
	if !model.IsBackendUnavailable(err) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}

func TestStart_PublishesSubscribedSnapshotsExceptInitial(t *testing.T) {
	var buf bytes.Buffer
	w := &mockWriter{}
	p := NewPublisher(w, Options{Logger: newTestLogger(&buf)})

	source := notify.New[model.Snapshot]()
	defer source.Close()
	source.Publish(model.Snapshot{Version: 0})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx, source)
		close(done)
	}()

	source.Publish(model.Snapshot{Version: 1, TotalActivities: 1})

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, msgs := w.snapshot()
		if len(msgs) > 0 {
			for _, m := range msgs {
				if string(m.Key) == "0" {
					t.Error("initial snapshot must not be published")
				}
			}
			if string(msgs[len(msgs)-1].Key) != "1" {
				t.Errorf("last key = %q, want 1", msgs[len(msgs)-1].Key)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for snapshot to be published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 200 * time.Millisecond},
		{1, 400 * time.Millisecond},
		{3, 1600 * time.Millisecond},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.retries); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}
