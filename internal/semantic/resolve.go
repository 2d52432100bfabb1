package semantic

import (
	"context"
	"errors"
	"sync"
)

var (
	registerMu sync.Mutex
	registered Collector
)

// Register installs the process-wide collector implementation. Call once at
// startup, before Resolve.
func Register(c Collector) {
	registerMu.Lock()
	registered = c
	registerMu.Unlock()
}

// Resolve returns the registered collector, or a collector whose every call
// fails until an implementation is registered.
func Resolve() Collector {
	registerMu.Lock()
	defer registerMu.Unlock()
	if registered != nil {
		return registered
	}
	return unavailableCollector{}
}

var errNoCollector = errors.New("no semantic collector registered")

type unavailableCollector struct{}

func (unavailableCollector) CollectElements(context.Context, Page) ([]Element, error) {
	return nil, errNoCollector
}

func (unavailableCollector) Analyze(context.Context, Page) (*PageAnalysis, error) {
	return nil, errNoCollector
}

func (unavailableCollector) DetectRegions(context.Context, Page) ([]Region, error) {
	return nil, errNoCollector
}

func (unavailableCollector) ExtractContent(context.Context, Page) (*PageContent, error) {
	return nil, errNoCollector
}

func (unavailableCollector) FindByQuery([]Element, string, int) []Match {
	return nil
}
