package audit

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/signsure/signsure/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream is an in-memory stand-in for the Redis stream commands.
type fakeStream struct {
	mu       sync.Mutex
	added    []*redis.XAddArgs
	addErr   error
	groupErr error
	pending  []redis.XMessage
	claimed  []redis.XMessage
	readErr  error
	acked    []string
	groups   int
	nextID   int
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return redis.NewStringResult("", f.addErr)
	}
	f.added = append(f.added, a)
	f.nextID++
	return redis.NewStringResult(streamID(f.nextID), nil)
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups++
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return redis.NewXStreamSliceCmdResult(nil, f.readErr)
	}
	if len(f.pending) == 0 {
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	msgs := f.pending
	f.pending = nil
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: StreamKey, Messages: msgs}}, nil)
}

func (f *fakeStream) XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.claimed
	f.claimed = nil
	cmd := redis.NewXAutoClaimCmd(ctx)
	cmd.SetVal(msgs, "0-0")
	return cmd
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) addedTo(stream string) []*redis.XAddArgs {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*redis.XAddArgs
	for _, a := range f.added {
		if a.Stream == stream {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeStream) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func streamID(n int) string {
	return strconv.Itoa(n) + "-0"
}

type fakeStore struct {
	mu     sync.Mutex
	events []*model.AccountEvent
	calls  int
	failN  int // fail the first failN calls
	err    error
}

func (s *fakeStore) InsertAccountEvents(ctx context.Context, events []*model.AccountEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) stored() []*model.AccountEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.AccountEvent(nil), s.events...)
}
