package uow

import (
	"reflect"
	"sync"

	"gorm.io/gorm/schema"
)

const defaultKeyColumn = "id"

// Descriptor tells a repository where its entity lives.
type Descriptor struct {
	Table     string
	KeyColumn string
}

// Registry maps entity types to their descriptors. Registered types get one
// cached repository per session generation; anything else falls back to a
// naming convention and an uncached repository.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[reflect.Type]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[reflect.Type]Descriptor)}
}

// Register binds T to desc. Empty fields are filled from the convention.
func Register[T any](r *Registry, desc Descriptor) {
	conv := conventionDescriptor[T]()
	if desc.Table == "" {
		desc.Table = conv.Table
	}
	if desc.KeyColumn == "" {
		desc.KeyColumn = conv.KeyColumn
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.descriptors[typeOf[T]()] = desc
}

// Lookup returns the descriptor registered for t.
func (r *Registry) Lookup(t reflect.Type) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.descriptors[t]

	return desc, ok
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.descriptors)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// conventionDescriptor uses the entity's TableName when it has one and
// gorm's plural snake case otherwise.
func conventionDescriptor[T any]() Descriptor {
	desc := Descriptor{KeyColumn: defaultKeyColumn}

	var zero T
	if tabler, ok := any(&zero).(schema.Tabler); ok {
		desc.Table = tabler.TableName()

		return desc
	}

	desc.Table = schema.NamingStrategy{}.TableName(typeOf[T]().Name())

	return desc
}
