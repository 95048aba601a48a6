package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), events...))
	return s.err
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestPublisherFlushesOnClose(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher([]Sink{sink}, WithFlushInterval(time.Hour))

	p.Publish(Event{Action: ActionPostCreated, AgentID: "a1"})
	p.Publish(Event{Action: ActionPostDeleted, AgentID: "a1"})
	p.Close()

	got := sink.events()
	require.Len(t, got, 2)
	assert.Equal(t, ActionPostCreated, got[0].Action)
	assert.NotEqual(t, uuid.Nil, got[0].ID)
	assert.False(t, got[0].OccurredAt.IsZero())
}

func TestPublisherBatchesBySize(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher([]Sink{sink}, WithBatchSize(2), WithFlushInterval(time.Hour))
	for i := 0; i < 5; i++ {
		p.Publish(Event{Action: ActionAgentLoggedIn})
	}
	p.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 2)
	assert.Len(t, sink.batches[2], 1)
}

func TestPublisherFlushesOnInterval(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher([]Sink{sink}, WithFlushInterval(10*time.Millisecond))
	defer p.Close()

	p.Publish(Event{Action: ActionAgentRegistered})
	assert.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPublisherSurvivesFailingSink(t *testing.T) {
	failing := &recordingSink{err: errors.New("down")}
	healthy := &recordingSink{}
	p := NewPublisher([]Sink{failing, healthy})

	p.Publish(Event{Action: ActionLoginFailed})
	p.Close()
	p.Close()

	assert.Len(t, healthy.events(), 1)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Write(context.Background(), []Event{{Action: ActionProfileUpdated, AgentID: "a1", IP: "10.0.0.1"}})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "audit", entries[0].LoggerName)
	assert.Equal(t, ActionProfileUpdated, entries[0].ContextMap()["action"])
}

type fakeProducer struct {
	topic   string
	keys    []string
	values  [][]byte
	headers []map[string]string
}

func (f *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.topic = topic
	f.keys = append(f.keys, string(key))
	f.values = append(f.values, value)
	f.headers = append(f.headers, headers)
	return nil
}

func TestKafkaSinkKeysByAgentThenIP(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewKafkaSink(producer, "molttok.audit")

	err := sink.Write(context.Background(), []Event{
		{Action: ActionPostCreated, AgentID: "agent-1"},
		{Action: ActionRateLimited, IP: "10.0.0.9"},
	})
	require.NoError(t, err)

	assert.Equal(t, "molttok.audit", producer.topic)
	assert.Equal(t, []string{"agent-1", "10.0.0.9"}, producer.keys)
	assert.Equal(t, ActionRateLimited, producer.headers[1]["action"])

	var decoded Event
	require.NoError(t, json.Unmarshal(producer.values[0], &decoded))
	assert.Equal(t, "agent-1", decoded.AgentID)
}

type fakeInserter struct {
	execs   []string
	queries []string
	rows    [][]interface{}
}

func (f *fakeInserter) Exec(_ context.Context, query string, _ ...interface{}) error {
	f.execs = append(f.execs, query)
	return nil
}

func (f *fakeInserter) BatchInsert(_ context.Context, query string, rows [][]interface{}) error {
	f.queries = append(f.queries, query)
	f.rows = append(f.rows, rows...)
	return nil
}

func TestClickHouseSink(t *testing.T) {
	db := &fakeInserter{}
	sink := NewClickHouseSink(db, "audit_events")

	require.NoError(t, sink.EnsureTable(context.Background()))
	require.Len(t, db.execs, 1)
	assert.True(t, strings.HasPrefix(db.execs[0], "CREATE TABLE IF NOT EXISTS audit_events"))

	require.NoError(t, sink.Write(context.Background(), []Event{{Action: ActionPostCreated}}))
	assert.Equal(t, "INSERT INTO audit_events (id, action, agent_id, subject_id, ip, metadata, occurred_at)", db.queries[0])
	require.Len(t, db.rows, 1)
	assert.Equal(t, map[string]string{}, db.rows[0][5])
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher([]Sink{sink}, WithFlushInterval(time.Hour))
	p.Publish(Event{Action: ActionPostCreated})
	p.Close()

	assert.NotPanics(t, func() { p.Publish(Event{Action: ActionPostDeleted}) })
	assert.NotPanics(t, p.Close)

	got := sink.events()
	require.Len(t, got, 1)
	assert.Equal(t, ActionPostCreated, got[0].Action)
}

func TestConcurrentPublishAndClose(t *testing.T) {
	p := NewPublisher(nil, WithFlushInterval(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Publish(Event{Action: ActionAgentLoggedIn})
			}
		}()
	}
	p.Close()
	wg.Wait()
}
