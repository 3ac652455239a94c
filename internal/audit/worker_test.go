package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signsure/signsure/internal/metrics"
	"github.com/signsure/signsure/internal/model"
)

func entry(t *testing.T, id string, p EventPayload) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return redis.XMessage{ID: id, Values: map[string]interface{}{"payload": string(data)}}
}

func validPayload() EventPayload {
	return EventPayload{Kind: model.EventLogin, UserID: "01HUSER", Outcome: model.OutcomeSuccess, At: 1700000000000}
}

func newTestWorker(stream *fakeStream, store *fakeStore, recorder metrics.Recorder) *Worker {
	w := newWorker(stream, store, discardLogger(), "test-consumer", recorder)
	w.retryBackoff = time.Millisecond
	w.blockTimeout = time.Millisecond
	return w
}

func TestProcessOnce_StoresAndAcks(t *testing.T) {
	stream := &fakeStream{pending: []redis.XMessage{
		entry(t, "10-0", validPayload()),
		entry(t, "11-0", EventPayload{Kind: model.EventRegister, Outcome: model.OutcomeFailure, At: 1700000000001}),
	}}
	store := &fakeStore{}
	recorder := metrics.NewInMemory()
	w := newTestWorker(stream, store, recorder)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}

	events := store.stored()
	if len(events) != 2 {
		t.Fatalf("stored %d events, want 2", len(events))
	}
	first := events[0]
	if first.EventID != "10-0" || first.Kind != model.EventLogin || first.UserID != "01HUSER" {
		t.Errorf("first event = %+v", first)
	}
	if first.ID == "" || first.ID == events[1].ID {
		t.Error("each event needs its own row ID")
	}
	if !first.OccurredAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("OccurredAt = %v", first.OccurredAt)
	}
	if events[1].UserID != "" {
		t.Errorf("anonymous event should keep an empty user ID, got %q", events[1].UserID)
	}

	acked := stream.ackedIDs()
	if len(acked) != 2 || acked[0] != "10-0" || acked[1] != "11-0" {
		t.Errorf("acked = %v, want [10-0 11-0]", acked)
	}
	if got := recorder.Count("account_event/" + metrics.EventStored); got != 2 {
		t.Errorf("stored count = %d, want 2", got)
	}
}

func TestProcessOnce_DeadLettersPoisonEntries(t *testing.T) {
	stream := &fakeStream{pending: []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"other": "x"}},
		{ID: "2-0", Values: map[string]interface{}{"payload": "{not json"}},
		entry(t, "3-0", EventPayload{Kind: "delete_everything", Outcome: model.OutcomeSuccess, At: 1}),
		entry(t, "4-0", validPayload()),
	}}
	store := &fakeStore{}
	recorder := metrics.NewInMemory()
	w := newTestWorker(stream, store, recorder)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}

	if got := len(store.stored()); got != 1 {
		t.Errorf("stored %d events, want 1", got)
	}

	dlq := stream.addedTo(DeadLetterStreamKey)
	if len(dlq) != 3 {
		t.Fatalf("dead-lettered %d entries, want 3", len(dlq))
	}
	reasons := []string{"invalid_format", "unmarshal_error", "validation_error"}
	for i, args := range dlq {
		values := args.Values.(map[string]interface{})
		if values["reason"] != reasons[i] {
			t.Errorf("dlq[%d] reason = %v, want %s", i, values["reason"], reasons[i])
		}
	}
	if got := recorder.Count("account_event/" + metrics.EventDeadLettered); got != 3 {
		t.Errorf("dead_lettered = %d, want 3", got)
	}
	if got := len(stream.ackedIDs()); got != 4 {
		t.Errorf("acked %d entries, want 4", got)
	}
}

func TestProcessOnce_AllPoisonStillAcks(t *testing.T) {
	stream := &fakeStream{pending: []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"payload": "[]"}},
	}}
	store := &fakeStore{}
	w := newTestWorker(stream, store, nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}
	if store.calls != 0 {
		t.Error("store should not be called for an empty batch")
	}
	if acked := stream.ackedIDs(); len(acked) != 1 || acked[0] != "1-0" {
		t.Errorf("acked = %v, want [1-0]", acked)
	}
}

func TestProcessOnce_RetriesThenSucceeds(t *testing.T) {
	stream := &fakeStream{pending: []redis.XMessage{entry(t, "1-0", validPayload())}}
	store := &fakeStore{failN: 2, err: errors.New("deadlock detected")}
	w := newTestWorker(stream, store, nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}
	if store.calls != 3 {
		t.Errorf("store calls = %d, want 3", store.calls)
	}
	if len(stream.ackedIDs()) != 1 {
		t.Error("entry should be acked after a successful retry")
	}
}

func TestProcessOnce_LeavesEntriesPendingOnFailure(t *testing.T) {
	boom := errors.New("db down")
	stream := &fakeStream{pending: []redis.XMessage{entry(t, "1-0", validPayload())}}
	store := &fakeStore{failN: DefaultMaxRetries, err: boom}
	w := newTestWorker(stream, store, nil)

	err := w.processOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("processOnce() error = %v, want %v", err, boom)
	}
	if store.calls != DefaultMaxRetries {
		t.Errorf("store calls = %d, want %d", store.calls, DefaultMaxRetries)
	}
	if acked := stream.ackedIDs(); len(acked) != 0 {
		t.Errorf("failed batch must not be acked, got %v", acked)
	}
}

func TestProcessOnce_PrefersReclaimedEntries(t *testing.T) {
	stream := &fakeStream{
		claimed: []redis.XMessage{entry(t, "1-0", validPayload())},
		pending: []redis.XMessage{entry(t, "9-0", validPayload())},
	}
	store := &fakeStore{}
	w := newTestWorker(stream, store, nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce failed: %v", err)
	}
	events := store.stored()
	if len(events) != 1 || events[0].EventID != "1-0" {
		t.Fatalf("expected only the reclaimed entry, got %+v", events)
	}

	// The next pass skips claiming (interval not elapsed) and reads new entries.
	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("second processOnce failed: %v", err)
	}
	events = store.stored()
	if len(events) != 2 || events[1].EventID != "9-0" {
		t.Errorf("expected the new entry on the second pass, got %+v", events)
	}
}

func TestProcessOnce_ReadError(t *testing.T) {
	boom := errors.New("i/o timeout")
	w := newTestWorker(&fakeStream{readErr: boom}, &fakeStore{}, nil)

	if err := w.processOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("processOnce() error = %v, want %v", err, boom)
	}
}

func TestRun_ExistingGroupAndShutdown(t *testing.T) {
	stream := &fakeStream{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	w := newTestWorker(stream, &fakeStore{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		stream.mu.Lock()
		created := stream.groups
		stream.mu.Unlock()
		if created > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestRun_GroupCreateError(t *testing.T) {
	boom := errors.New("NOPERM")
	w := newTestWorker(&fakeStream{groupErr: boom}, &fakeStore{}, nil)

	if err := w.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want %v", err, boom)
	}
}

func TestShutdown_NotStarted(t *testing.T) {
	w := newTestWorker(&fakeStream{}, &fakeStore{}, nil)
	if err := w.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
}

func TestNewConsumerID_Unique(t *testing.T) {
	a, b := NewConsumerID(), NewConsumerID()
	if a == "" || a == b {
		t.Errorf("consumer IDs should be unique, got %q and %q", a, b)
	}
}
