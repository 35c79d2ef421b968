package publish

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// PublisherFactory builds one batch publisher instance. Registered per
// backend name; invoked once per registry so each publish worker gets
// publishers of its own.
type PublisherFactory func() (*BatchPublisher, error)

// Registry maps configured pipeline names to live batch publishers and fans
// every document out to them in configuration order. Resolving an unknown
// name is fatal before any crawl work begins.
type Registry struct {
	factories  map[string]PublisherFactory
	order      []string
	publishers []*BatchPublisher
	logger     arbor.ILogger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		factories: make(map[string]PublisherFactory),
		logger:    logger,
	}
}

// Register binds a backend name to its factory.
func (r *Registry) Register(name string, factory PublisherFactory) {
	r.factories[name] = factory
}

// Resolve instantiates a publisher for every configured name, in order.
func (r *Registry) Resolve(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("publish pipeline is empty")
	}
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return fmt.Errorf("unknown publisher: %s", name)
		}
		publisher, err := factory()
		if err != nil {
			return fmt.Errorf("failed to create publisher %s: %w", name, err)
		}
		r.order = append(r.order, name)
		r.publishers = append(r.publishers, publisher)
	}
	return nil
}

// Validate checks every resolved publisher's configuration.
func (r *Registry) Validate() error {
	if len(r.publishers) == 0 {
		return fmt.Errorf("publish registry has no resolved publishers")
	}
	for _, publisher := range r.publishers {
		if err := publisher.Validate(); err != nil {
			return fmt.Errorf("publisher %s: %w", publisher.Name(), err)
		}
	}
	return nil
}

// Send delivers one document to every publisher in order. The first failure
// stops the fan-out and is returned to the caller.
func (r *Registry) Send(ctx context.Context, doc *models.Document) error {
	for _, publisher := range r.publishers {
		if err := publisher.Send(ctx, doc); err != nil {
			return fmt.Errorf("publisher %s: %w", publisher.Name(), err)
		}
	}
	return nil
}

// Shutdown flushes and closes every publisher. All publishers are attempted;
// the first error is returned.
func (r *Registry) Shutdown(ctx context.Context, optimize bool) error {
	var firstErr error
	for _, publisher := range r.publishers {
		if err := publisher.Shutdown(ctx, optimize); err != nil {
			r.logger.Warn().
				Str("publisher", publisher.Name()).
				Err(err).
				Msg("Publisher shutdown failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Sent returns the total documents delivered across publishers.
func (r *Registry) Sent() int {
	total := 0
	for _, publisher := range r.publishers {
		total += publisher.Sent()
	}
	return total
}
