// Package sources holds the data-source strategies behind each dataset and
// the ordered fallback chain that resolves them.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

// ErrAllSourcesExhausted reports that every source in a chain failed.
var ErrAllSourcesExhausted = errors.New("all sources exhausted")

// Source is one strategy for producing a logical dataset.
type Source[T any] interface {
	Name() core.Provenance
	Fetch(ctx context.Context) (T, error)
}

// Result carries the winning source's value and provenance. Degraded is set
// when anything but the first source satisfied the request.
type Result[T any] struct {
	Value      T
	Provenance core.Provenance
	Degraded   bool
}

// Resolve tries sources in order and returns the first success. Attempts are
// independent: a failure never leaks partial state into the next try. When
// every source fails the error wraps ErrAllSourcesExhausted and each
// attempt's failure.
func Resolve[T any](ctx context.Context, srcs ...Source[T]) (Result[T], error) {
	var attempts []error
	for i, src := range srcs {
		value, err := src.Fetch(ctx)
		if err == nil {
			return Result[T]{Value: value, Provenance: src.Name(), Degraded: i > 0}, nil
		}
		log.Printf("sources: %s failed: %v", src.Name(), err)
		attempts = append(attempts, fmt.Errorf("%s: %w", src.Name(), err))
	}
	return Result[T]{}, fmt.Errorf("%w: %w", ErrAllSourcesExhausted, errors.Join(attempts...))
}

// Func adapts a plain function into a Source.
func Func[T any](name core.Provenance, fn func(ctx context.Context) (T, error)) Source[T] {
	return funcSource[T]{name: name, fn: fn}
}

type funcSource[T any] struct {
	name core.Provenance
	fn   func(ctx context.Context) (T, error)
}

func (s funcSource[T]) Name() core.Provenance { return s.name }

func (s funcSource[T]) Fetch(ctx context.Context) (T, error) { return s.fn(ctx) }
