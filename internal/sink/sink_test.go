package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
)

// fakeRedis keeps hashes in memory.
type fakeRedis struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	fail   bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: make(map[string]map[string]string)}
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		k, _ := values[i].(string)
		v, _ := values[i+1].(string)
		h[k] = v
	}
	return nil
}

func (f *fakeRedis) HDel(_ context.Context, key string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range fields {
		delete(f.hashes[key], field)
	}
	return nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.hashes, k)
	}
	return nil
}

func (f *fakeRedis) hash(key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out
}

func TestRedisMirror_AppliesDeltas(t *testing.T) {
	rdb := newFakeRedis()
	// Stale state from a previous run is cleared on start.
	require.NoError(t, rdb.HSet(context.Background(), "l2:BOOK:bid", "42", "1"))

	mirror := NewRedisMirror(rdb, "BOOK", zap.NewNop())
	feed := make(chan domain.Delta, 8)
	feed <- domain.Delta{Seq: 1, Side: domain.SideBid, Price: 100, Quantity: 10}
	feed <- domain.Delta{Seq: 2, Side: domain.SideBid, Price: 100, Quantity: 15}
	feed <- domain.Delta{Seq: 3, Side: domain.SideAsk, Price: 90, Quantity: 3}
	feed <- domain.Delta{Seq: 4, Side: domain.SideBid, Price: 99, Quantity: 2}
	feed <- domain.Delta{Seq: 5, Side: domain.SideBid, Price: 99, Quantity: 0}
	close(feed)

	require.NoError(t, mirror.Run(context.Background(), feed))

	assert.Equal(t, "l2:BOOK:bid", mirror.SideKey(domain.SideBid))
	assert.Equal(t, map[string]string{"100": "15"}, rdb.hash("l2:BOOK:bid"))
	assert.Equal(t, map[string]string{"90": "3"}, rdb.hash("l2:BOOK:ask"))
	assert.Equal(t, map[string]string{"seq": "5"}, rdb.hash("l2:BOOK:meta"))
}

func TestRedisMirror_WriteErrorsDoNotStopRun(t *testing.T) {
	rdb := newFakeRedis()
	mirror := NewRedisMirror(rdb, "BOOK", zap.NewNop())

	rdb.fail = true
	feed := make(chan domain.Delta, 2)
	feed <- domain.Delta{Seq: 1, Side: domain.SideBid, Price: 100, Quantity: 10}
	close(feed)

	assert.NoError(t, mirror.Run(context.Background(), feed))
	assert.Empty(t, rdb.hash("l2:BOOK:bid"))
}

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSPublisher_PublishesEveryDelta(t *testing.T) {
	conn := &fakeConn{}
	pub := NewNATSPublisher(conn, "l2book.deltas", "BOOK", zap.NewNop())

	feed := make(chan domain.Delta, 4)
	feed <- domain.Delta{Seq: 1, Side: domain.SideBid, Price: 100, Quantity: 10}
	feed <- domain.Delta{Seq: 2, Side: domain.SideBid, Price: 100, Quantity: 0}
	close(feed)

	require.NoError(t, pub.Run(context.Background(), feed))

	require.Len(t, conn.payloads, 2)
	assert.Equal(t, []string{"l2book.deltas", "l2book.deltas"}, conn.subjects)

	var msg deltaMessage
	require.NoError(t, json.Unmarshal(conn.payloads[1], &msg))
	assert.Equal(t, deltaMessage{Instrument: "BOOK", Seq: 2, Side: domain.SideBid, Price: 100, Quantity: 0}, msg)
	assert.JSONEq(t, `{"instrument":"BOOK","seq":1,"side":"bid","price":100,"quantity":10}`, string(conn.payloads[0]))
}

func TestNATSPublisher_StopsOnCancel(t *testing.T) {
	pub := NewNATSPublisher(&fakeConn{}, "l2book.deltas", "BOOK", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, pub.Run(ctx, make(chan domain.Delta)))
}
