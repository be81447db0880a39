package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/pebbe/zmq4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andresmejia3/posecast/internal/logging"
	"github.com/andresmejia3/posecast/internal/types"
)

func testEvent(cycle int) types.PoseEvent {
	return types.PoseEvent{
		SessionID: "s1",
		Cycle:     cycle,
		Time:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Scheme:    "coco17",
		Width:     640,
		Height:    480,
		Keypoints: []types.Keypoint{{ID: 0, X: 320, Y: 240, Z: 0.9, Score: 0.9}},
	}
}

func TestWebSocket_Broadcast(t *testing.T) {
	ws := newWebSocket(logging.Discard().WithField("sink", "websocket"))
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()
	defer ws.Close()

	// Published before anyone connects; replayed to the first client.
	if err := ws.Publish(context.Background(), testEvent(1)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var got types.PoseEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Cycle != 1 {
		t.Errorf("Expected replay of cycle 1, got %d", got.Cycle)
	}

	if err := ws.Publish(context.Background(), testEvent(2)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Cycle != 2 || len(got.Keypoints) != 1 || got.Keypoints[0].X != 320 {
		t.Errorf("Unexpected event %+v", got)
	}

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz failed: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["ws_clients"] != float64(1) {
		t.Errorf("Expected 1 client in healthz, got %v", health["ws_clients"])
	}
}

func TestWebSocket_SlowClientDoesNotBlock(t *testing.T) {
	ws := newWebSocket(logging.Discard().WithField("sink", "websocket"))
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()
	defer ws.Close()

	// Connects and never reads.
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return ws.ClientCount() == 1 })

	big := testEvent(0)
	big.Keypoints = make([]types.Keypoint, 2000)
	for i := range big.Keypoints {
		big.Keypoints[i] = types.Keypoint{ID: i, X: 123.456, Y: 654.321, Z: 0.5, Score: 0.5}
	}

	// Far more than the socket buffers hold; each call must still return at once.
	for i := 0; i < 300; i++ {
		big.Cycle = i
		start := time.Now()
		if err := ws.Publish(context.Background(), big); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if d := time.Since(start); d > time.Second {
			t.Fatalf("Publish #%d blocked for %s", i, d)
		}
	}
	waitFor(t, func() bool { return ws.ClientCount() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewWebSocket_Listens(t *testing.T) {
	ws, err := NewWebSocket("127.0.0.1:0", logging.Discard())
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}
	defer ws.Close()

	resp, err := http.Get("http://" + ws.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient overrides the calls MQTT makes; anything else panics.
type fakeClient struct {
	mqtt.Client
	connected    bool
	publishErr   error
	topics       []string
	payloads     [][]byte
	disconnected bool
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return newToken(c.publishErr)
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTT_Publish(t *testing.T) {
	client := &fakeClient{connected: true}
	m := newMQTT(client, "posecast/poses", logging.Discard().WithField("sink", "mqtt"))

	if err := m.Publish(context.Background(), testEvent(7)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(client.topics) != 1 || client.topics[0] != "posecast/poses" {
		t.Fatalf("Unexpected topics %v", client.topics)
	}
	var got types.PoseEvent
	if err := json.Unmarshal(client.payloads[0], &got); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	if got.Cycle != 7 || got.SessionID != "s1" {
		t.Errorf("Unexpected payload %+v", got)
	}
	if m.Published() != 1 {
		t.Errorf("Expected 1 published, got %d", m.Published())
	}

	m.Close()
	if !client.disconnected {
		t.Errorf("Close should disconnect the client")
	}
}

func TestMQTT_PublishErrors(t *testing.T) {
	offline := newMQTT(&fakeClient{}, "t", logging.Discard().WithField("sink", "mqtt"))
	if err := offline.Publish(context.Background(), testEvent(1)); err == nil {
		t.Error("Expected error when not connected")
	}

	brokerErr := errors.New("not authorized")
	failing := newMQTT(&fakeClient{connected: true, publishErr: brokerErr}, "t", logging.Discard().WithField("sink", "mqtt"))
	if err := failing.Publish(context.Background(), testEvent(1)); !errors.Is(err, brokerErr) {
		t.Errorf("Expected broker error, got %v", err)
	}
	if failing.Published() != 0 {
		t.Errorf("Failed publishes must not be counted")
	}
}

func TestZMQ_Publish(t *testing.T) {
	const endpoint = "inproc://posecast-test"
	pub, err := NewZMQ(endpoint, "pose")
	if err != nil {
		t.Fatalf("NewZMQ failed: %v", err)
	}
	defer pub.Close()

	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if err := sub.Connect(endpoint); err != nil {
		t.Fatal(err)
	}
	if err := sub.SetSubscribe("pose"); err != nil {
		t.Fatal(err)
	}
	if err := sub.SetRcvtimeo(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	// PUB drops messages until the subscription propagates.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := pub.Publish(context.Background(), testEvent(3)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		parts, err := sub.RecvMessageBytes(0)
		if err != nil {
			continue
		}
		if len(parts) != 2 || string(parts[0]) != "pose" {
			t.Fatalf("Unexpected message parts %q", parts)
		}
		var got types.PoseEvent
		if err := msgpack.Unmarshal(parts[1], &got); err != nil {
			t.Fatalf("Payload is not msgpack: %v", err)
		}
		if got.Cycle != 3 || len(got.Keypoints) != 1 || got.Keypoints[0].Score != 0.9 {
			t.Errorf("Unexpected event %+v", got)
		}
		return
	}
	t.Fatal("No message received before the deadline")
}
