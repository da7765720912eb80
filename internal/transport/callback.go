package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"utfgrid/internal/tile"
)

var (
	ErrRegistryClosed  = errors.New("callback registry is closed")
	ErrCallbackPending = errors.New("callback already registered for tile")
)

// Registry holds the completion callbacks of in-flight callback requests,
// keyed by tile key. A response addressed to "<name>.<z>/<x>/<y>" is
// dispatched to the matching callback, which is removed as it fires.
// A registry lives as long as the layer that owns it is attached.
type Registry struct {
	name string

	mu        sync.Mutex
	callbacks map[string]func(raw []byte)
	closed    bool
}

func NewRegistry() *Registry {
	return &Registry{
		name:      "_utfgrid_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		callbacks: make(map[string]func(raw []byte)),
	}
}

// Name is the registry prefix of every callback path it serves.
func (r *Registry) Name() string {
	return r.name
}

func (r *Registry) Register(key string, fn func(raw []byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.callbacks[key]; ok {
		return fmt.Errorf("%w: %s", ErrCallbackPending, key)
	}
	r.callbacks[key] = fn
	return nil
}

func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callbacks, key)
}

// Invoke dispatches raw to the callback registered under path. Responses
// arriving after Close fail with ErrRegistryClosed.
func (r *Registry) Invoke(path string, raw []byte) error {
	key, ok := strings.CutPrefix(path, r.name+".")
	if !ok {
		return fmt.Errorf("callback %q does not belong to registry %s", path, r.name)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	fn, ok := r.callbacks[key]
	delete(r.callbacks, key)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("no callback registered for %q", path)
	}
	fn(raw)
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

// Close drops every registration and rejects later ones.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.callbacks = make(map[string]func(raw []byte))
}

// Callback fetches tiles whose responses are wrapped as "<path>(<json>);".
type Callback struct {
	client   *http.Client
	template *tile.Template
	registry *Registry
}

func NewCallback(client *http.Client, template *tile.Template, registry *Registry) *Callback {
	if client == nil {
		client = http.DefaultClient
	}
	return &Callback{client: client, template: template, registry: registry}
}

func (t *Callback) Fetch(ctx context.Context, c tile.Coord) ([]byte, error) {
	key := c.Key()
	done := make(chan []byte, 1)
	err := t.registry.Register(key, func(raw []byte) {
		select {
		case done <- raw:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer t.registry.Remove(key)

	body, err := get(ctx, t.client, t.template.CallbackURL(c, t.registry.Name()))
	if err != nil {
		return nil, err
	}

	path, raw, err := Unwrap(body)
	if err != nil {
		return nil, err
	}
	if err := t.registry.Invoke(path, raw); err != nil {
		return nil, err
	}

	select {
	case raw := <-done:
		return raw, nil
	default:
		return nil, fmt.Errorf("response for %s was addressed to %q", key, path)
	}
}

// Unwrap splits a callback response into the callback path and its JSON argument.
func Unwrap(body []byte) (string, []byte, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte(";"))
	body = bytes.TrimSpace(body)

	open := bytes.IndexByte(body, '(')
	if open <= 0 || body[len(body)-1] != ')' {
		return "", nil, fmt.Errorf("malformed callback response")
	}

	path := strings.TrimSpace(string(body[:open]))
	return path, body[open+1 : len(body)-1], nil
}

// Wrap is the server side of Unwrap.
func Wrap(path string, raw []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(path) + len(raw) + 3)
	buf.WriteString(path)
	buf.WriteByte('(')
	buf.Write(raw)
	buf.WriteString(");")
	return buf.Bytes()
}
