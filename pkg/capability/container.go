package capability

import (
	"fmt"
	"reflect"
	"sync"
)

// Container is the process wide service container handed to factories.
type Container struct {
	mu       sync.RWMutex
	services map[reflect.Type]any
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{services: make(map[reflect.Type]any)}
}

// Provide registers v under the static type T, replacing any previous value.
func Provide[T any](c *Container, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[reflect.TypeOf((*T)(nil)).Elem()] = v
}

// Resolve returns the service registered under T.
func Resolve[T any](c *Container) (T, error) {
	key := reflect.TypeOf((*T)(nil)).Elem()

	c.mu.RLock()
	v, ok := c.services[key]
	c.mu.RUnlock()

	if !ok {
		var zero T
		return zero, fmt.Errorf("capability: no service of type %s", key)
	}
	return v.(T), nil
}

// MustResolve is Resolve for services the host always provides.
func MustResolve[T any](c *Container) T {
	v, err := Resolve[T](c)
	if err != nil {
		panic(err)
	}
	return v
}
