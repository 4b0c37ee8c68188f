package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// fakeToken is an already completed token.
type fakeToken struct {
	mqtt.Token
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool { return !t.pending }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes. Methods the emitter never calls are left to
// the embedded nil interface.
type fakeClient struct {
	mqtt.Client

	mu          sync.Mutex
	connected   bool
	connectErr  error
	publishErr  error
	stall       bool
	messages    []message
	disconnects int
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr, pending: c.stall}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr == nil && !c.stall {
		c.messages = append(c.messages, message{topic: topic, qos: qos, payload: payload.([]byte)})
	}
	return &fakeToken{err: c.publishErr, pending: c.stall}
}

func (c *fakeClient) sent() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.messages...)
}

func testConfig() Config {
	return Config{
		Broker:      "tcp://broker:1883",
		ClientID:    "layermapper-test",
		StatsTopic:  "layermapper/stats/test",
		HealthTopic: "layermapper/health/test",
		QoS:         1,
	}
}

type report struct {
	Frames uint64 `msgpack:"frames"`
	State  string `msgpack:"state"`
}

func TestConnect(t *testing.T) {
	c := &fakeClient{}
	e := NewEmitterWithClient(testConfig(), c)
	require.NoError(t, e.Connect(context.Background()))
	assert.True(t, e.Stats().Connected)

	refused := &fakeClient{connectErr: errors.New("not authorized")}
	err := NewEmitterWithClient(testConfig(), refused).Connect(context.Background())
	assert.ErrorContains(t, err, "not authorized")

	stalled := &fakeClient{stall: true}
	cfg := testConfig()
	cfg.ConnectTimeout = 10 * time.Millisecond
	assert.Error(t, NewEmitterWithClient(cfg, stalled).Connect(context.Background()))
}

func TestPublish_MsgpackPayload(t *testing.T) {
	c := &fakeClient{connected: true}
	e := NewEmitterWithClient(testConfig(), c)

	require.NoError(t, e.PublishStats(report{Frames: 42, State: "steady"}))
	require.NoError(t, e.PublishHealth(map[string]string{"status": "healthy"}))

	msgs := c.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "layermapper/stats/test", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)

	var got report
	require.NoError(t, msgpack.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, report{Frames: 42, State: "steady"}, got)

	s := e.Stats()
	assert.Equal(t, uint64(1), s.Published["layermapper/stats/test"])
	assert.Equal(t, uint64(1), s.Published["layermapper/health/test"])
	assert.Equal(t, uint64(0), s.Errors)
}

func TestPublish_Errors(t *testing.T) {
	e := NewEmitterWithClient(testConfig(), &fakeClient{})
	assert.True(t, errors.Is(e.PublishStats(report{}), ErrNotConnected))

	e = NewEmitterWithClient(testConfig(), &fakeClient{connected: true, publishErr: errors.New("broker gone")})
	assert.ErrorContains(t, e.PublishStats(report{}), "broker gone")

	e = NewEmitterWithClient(testConfig(), &fakeClient{connected: true, stall: true})
	assert.True(t, errors.Is(e.PublishStats(report{}), ErrPublishTimeout))

	e = NewEmitterWithClient(testConfig(), &fakeClient{connected: true})
	assert.Error(t, e.PublishStats(make(chan int)), "unencodable report")
	assert.Equal(t, uint64(1), e.Stats().Errors)
}

func TestRun_PublishesPeriodically(t *testing.T) {
	c := &fakeClient{connected: true}
	cfg := testConfig()
	cfg.Interval = 5 * time.Millisecond
	e := NewEmitterWithClient(cfg, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, func() (any, any) {
			return report{Frames: 1}, nil
		})
	}()

	require.Eventually(t, func() bool { return len(c.sent()) >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, m := range c.sent() {
		assert.Equal(t, cfg.StatsTopic, m.topic, "nil health is not published")
	}
	t.Logf("✅ %d reports published", len(c.sent()))
}

func TestDisconnect(t *testing.T) {
	c := &fakeClient{connected: true}
	e := NewEmitterWithClient(testConfig(), c)
	e.Disconnect()
	e.Disconnect()
	assert.Equal(t, 1, c.disconnects, "only a connected client is disconnected")
	assert.False(t, e.Stats().Connected)
}

func TestNewEmitter_Defaults(t *testing.T) {
	e := NewEmitter(testConfig())
	assert.NotNil(t, e.client)
	assert.Equal(t, 5*time.Second, e.cfg.Interval)
	assert.Equal(t, 2*time.Second, e.cfg.PublishTimeout)
	assert.False(t, e.Stats().Connected)
}
