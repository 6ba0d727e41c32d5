package camera

import (
	"sync"
)

// Registry holds the discovered cameras keyed by index. Indices are
// only meaningful within one scan epoch: a completed rescan replaces
// the whole list atomically, so readers see either the old or the new
// list, never a mix.
type Registry struct {
	mu      sync.RWMutex
	cameras []Camera
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Replace swaps in a new camera list
func (r *Registry) Replace(cameras []Camera) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cameras = cameras
}

// List returns a copy of the current camera list
func (r *Registry) List() []Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Camera, len(r.cameras))
	copy(out, r.cameras)
	return out
}

// Get returns the camera at index
func (r *Registry) Get(index int) (Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.cameras) {
		return Camera{}, ErrCameraNotFound
	}
	return r.cameras[index], nil
}

// Count returns the number of registered cameras
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cameras)
}
