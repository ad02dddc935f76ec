package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/bizflow/internal/model"
)

// MaxPathDepth bounds dotted-path traversal so placeholder and condition
// paths always terminate.
const MaxPathDepth = 8

// Loader fetches a persisted entity by type and primary key. Values may be
// raw (decoded JSON); the registry hydrates them. A missing entity must be
// reported with an error wrapping model.ErrNotFound.
type Loader interface {
	LoadEntity(ctx context.Context, typeID, pk string) (*model.Record, error)
}

// Registry is the process-wide directory of entity types. Reads are safe
// for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*TypeDescriptor
	loader Loader
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{types: make(map[string]*TypeDescriptor)}
}

// Register adds a type descriptor. Registering the same id twice is an
// error.
func (r *Registry) Register(td *TypeDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[td.ID]; dup {
		return fmt.Errorf("type %q already registered", td.ID)
	}
	r.types[td.ID] = td
	return nil
}

// Bind sets the loader used for instance-by-pk access.
func (r *Registry) Bind(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loader = l
}

// Resolve returns the descriptor for typeID or an *UnknownTypeError.
func (r *Registry) Resolve(typeID string) (*TypeDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	td, ok := r.types[typeID]
	if !ok {
		return nil, &UnknownTypeError{Type: typeID}
	}
	return td, nil
}

// Has reports whether typeID is registered.
func (r *Registry) Has(typeID string) bool {
	_, err := r.Resolve(typeID)
	return err == nil
}

// Types returns all descriptors sorted by id.
func (r *Registry) Types() []*TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TypeDescriptor, 0, len(r.types))
	for _, td := range r.types {
		out = append(out, td)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TypeOf returns the registered type id of rec.
func (r *Registry) TypeOf(rec *model.Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("nil record")
	}
	if _, err := r.Resolve(rec.Type); err != nil {
		return "", err
	}
	return rec.Type, nil
}

// Get loads an instance by primary key and hydrates its values.
func (r *Registry) Get(ctx context.Context, typeID, pk string) (*model.Record, error) {
	td, err := r.Resolve(typeID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	loader := r.loader
	r.mu.RUnlock()
	if loader == nil {
		return nil, fmt.Errorf("get %s:%s: no loader bound", typeID, pk)
	}
	rec, err := loader.LoadEntity(ctx, typeID, pk)
	if err != nil {
		return nil, err
	}
	td.Hydrate(rec.Values)
	return rec, nil
}

// GetField reads one field of rec by name. A name the type does not
// declare yields ErrFieldNotFound; a declared field with no stored value
// yields nil.
func (r *Registry) GetField(rec *model.Record, name string) (any, error) {
	td, err := r.Resolve(rec.Type)
	if err != nil {
		return nil, err
	}
	f, ok := td.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", rec.Type, name, ErrFieldNotFound)
	}
	if f.Name == pkField.Name {
		return rec.PK, nil
	}
	return rec.Values[name], nil
}

// Walk follows a dotted path such as "owner.username" from rec across
// to-one relations and returns the leaf value with its descriptor.
//
// A null or dangling intermediate link yields (nil, zero descriptor, nil):
// the path is broken, not invalid. Unknown names and traversal through a
// non-relation yield ErrFieldNotFound.
func (r *Registry) Walk(ctx context.Context, rec *model.Record, path string) (any, FieldDescriptor, error) {
	segments := strings.Split(path, ".")
	if len(segments) > MaxPathDepth {
		return nil, FieldDescriptor{}, fmt.Errorf("%q: %w", path, ErrPathTooDeep)
	}

	cur := rec
	for i, seg := range segments {
		if cur == nil {
			return nil, FieldDescriptor{}, nil
		}
		td, err := r.Resolve(cur.Type)
		if err != nil {
			return nil, FieldDescriptor{}, err
		}
		f, ok := td.Lookup(seg)
		if !ok {
			return nil, FieldDescriptor{}, fmt.Errorf("%s.%s: %w", cur.Type, seg, ErrFieldNotFound)
		}
		var value any
		if f.Name == pkField.Name {
			value = cur.PK
		} else {
			value = cur.Values[seg]
		}
		if i == len(segments)-1 {
			return value, f, nil
		}
		if !f.Kind.IsToOne() {
			return nil, FieldDescriptor{}, fmt.Errorf("%s.%s is not a relation: %w", cur.Type, seg, ErrFieldNotFound)
		}
		pk := Format(f.Kind, value)
		if pk == "" {
			return nil, FieldDescriptor{}, nil
		}
		next, err := r.Get(ctx, f.Target, pk)
		if errors.Is(err, model.ErrNotFound) {
			return nil, FieldDescriptor{}, nil
		}
		if err != nil {
			return nil, FieldDescriptor{}, err
		}
		cur = next
	}
	return nil, FieldDescriptor{}, nil
}
