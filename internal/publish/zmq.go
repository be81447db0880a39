package publish

import (
	"context"
	"fmt"
	"sync"

	"github.com/pebbe/zmq4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andresmejia3/posecast/internal/types"
)

// ZMQ publishes each event on a PUB socket as a two-part message:
// [topic, msgpack(event)].
type ZMQ struct {
	mu     sync.Mutex
	socket *zmq4.Socket
	topic  string
}

// NewZMQ binds a PUB socket on endpoint, e.g. tcp://*:5556.
func NewZMQ(endpoint, topic string) (*ZMQ, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("zmq bind %s: %w", endpoint, err)
	}
	return &ZMQ{socket: socket, topic: topic}, nil
}

func (z *ZMQ) Publish(_ context.Context, event types.PoseEvent) error {
	payload, err := msgpack.Marshal(&event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	if _, err := z.socket.SendMessage(z.topic, payload); err != nil {
		return fmt.Errorf("zmq send: %w", err)
	}
	return nil
}

func (z *ZMQ) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	_ = z.socket.SetLinger(0)
	return z.socket.Close()
}
