// Package registry is a concurrent name to value map.
package registry

import (
	"slices"

	"github.com/alphadose/haxmap"
)

// Registry holds values by name. Implementations are safe for concurrent use.
type Registry[T any] interface {
	Get(name string) (T, bool)
	Add(name string, value T)
	Del(name string)
	// Names returns the registered names in sorted order.
	Names() []string
	Len() int
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(name string) (T, bool) {
	return r.values.Get(name)
}

// Add registers value under name, replacing any previous value.
func (r *registry[T]) Add(name string, value T) {
	r.values.Set(name, value)
}

func (r *registry[T]) Del(name string) {
	r.values.Del(name)
}

func (r *registry[T]) Names() []string {
	names := make([]string, 0, r.Len())
	r.values.ForEach(func(name string, _ T) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}
