package eventbus

import (
	"sync"

	"github.com/go-faster/errors"
)

// ErrUnknownType marks an envelope whose type tag has no registered decoder.
var ErrUnknownType = errors.New("no decoder registered for type tag")

// DecodeFunc turns an envelope payload into a consumer-local event value.
type DecodeFunc func(payload []byte) (any, error)

// Registry maps type tags to local decoders. Each consuming service holds its
// own registry with its own representations of the events it cares about, so
// producer and consumer evolve independently.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// Register installs fn as the decoder for typeTag, replacing any previous one.
func (r *Registry) Register(typeTag string, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[typeTag] = fn
}

// Decode resolves the envelope's type tag and decodes its payload.
func (r *Registry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	fn, ok := r.decoders[env.TypeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "type tag %q", env.TypeTag)
	}
	return fn(env.Payload)
}
