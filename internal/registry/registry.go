// internal/registry/registry.go
package registry

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"notifcast/internal/messaging"
)

// Broker is the slice of the AMQP surface the registry needs. Declares and
// binds are idempotent on the broker; the registry relies on that.
type Broker interface {
	DeclareQueue(name string) error
	BindQueue(queue, key string) error
	UnbindQueue(queue, key string) error
}

// Registry maintains the destination bindings of every registered device:
// one durable queue per device, bound to the device-identity key, the
// device-class key, the broadcast key, and whatever topic or property keys
// the device subscribes to.
type Registry struct {
	broker Broker

	mu      sync.Mutex
	devices map[uuid.UUID]*deviceEntry
}

// deviceEntry serializes binding operations for one device. Concurrent
// calls for different devices proceed independently.
type deviceEntry struct {
	mu sync.Mutex
}

func New(broker Broker) *Registry {
	return &Registry{
		broker:  broker,
		devices: make(map[uuid.UUID]*deviceEntry),
	}
}

func (r *Registry) entry(queueID uuid.UUID) *deviceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.devices[queueID]
	if !ok {
		e = &deviceEntry{}
		r.devices[queueID] = e
	}
	return e
}

// Bind creates the device's durable queue (if absent) and binds it under the
// device-identity, device-class and broadcast keys. Safe to call twice for
// the same device: declares and binds of existing state are no-ops.
func (r *Registry) Bind(queueID uuid.UUID, deviceClass string) error {
	e := r.entry(queueID)
	e.mu.Lock()
	defer e.mu.Unlock()

	queue := messaging.QueueName(queueID.String())
	if err := r.broker.DeclareQueue(queue); err != nil {
		return err
	}
	for _, key := range []string{queue, messaging.ClassKey(deviceClass), messaging.BroadcastKey} {
		if err := r.broker.BindQueue(queue, key); err != nil {
			return err
		}
	}

	log.Printf("[Registry] Device %s bound (class %s)", queueID, deviceClass)
	return nil
}

// Subscribe binds the device queue to an additional topic or property key.
func (r *Registry) Subscribe(queueID uuid.UUID, bindingKey string) error {
	e := r.entry(queueID)
	e.mu.Lock()
	defer e.mu.Unlock()

	return r.broker.BindQueue(messaging.QueueName(queueID.String()), bindingKey)
}

// Unsubscribe removes a topic or property binding from the device queue.
func (r *Registry) Unsubscribe(queueID uuid.UUID, bindingKey string) error {
	e := r.entry(queueID)
	e.mu.Lock()
	defer e.mu.Unlock()

	return r.broker.UnbindQueue(messaging.QueueName(queueID.String()), bindingKey)
}

// ListDeviceIDs returns the queue identities seen by this process.
func (r *Registry) ListDeviceIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}
