package stage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps stage identifiers to their processors. Registration
// happens at daemon startup; lookups are concurrent afterwards.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register binds a processor to a stage id. Re-registering an id is a
// programming error at startup.
func (r *Registry) Register(id string, processor Processor) error {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return fmt.Errorf("stage id is required")
	}
	if processor == nil {
		return fmt.Errorf("stage %s: processor is nil", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[id]; exists {
		return fmt.Errorf("stage %s registered twice", id)
	}
	r.processors[id] = processor
	return nil
}

// Resolve returns the processor for id, or an error naming the unknown stage.
func (r *Registry) Resolve(id string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	processor, ok := r.processors[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", id)
	}
	return processor, nil
}

// IDs returns the registered stage identifiers sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.processors))
	for id := range r.processors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that every stage in a plan resolves. An empty plan is
// valid: such jobs complete without executing anything.
func (r *Registry) Validate(plan []string) error {
	for _, id := range plan {
		if _, err := r.Resolve(id); err != nil {
			return err
		}
	}
	return nil
}
