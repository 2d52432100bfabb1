package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers for sessions, tabs, runs, and artifacts.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewSessionID generates a new browser session identifier.
func NewSessionID() string {
	return defaultGenerator.newIdentifier("session")
}

// NewTabID generates a new tab identifier.
func NewTabID() string {
	return defaultGenerator.newIdentifier("tab")
}

// NewRunID generates a new task-run identifier.
func NewRunID() string {
	return defaultGenerator.newIdentifier("run")
}

// NewArtifactID generates a unique identifier for stored artifacts.
func NewArtifactID() string {
	return defaultGenerator.newIdentifier("artifact")
}

// NewRequestID generates an identifier used to correlate LLM requests in logs.
func NewRequestID() string {
	return defaultGenerator.newIdentifier("req")
}

// NewInputRequestID generates an identifier for pending ask-human requests.
func NewInputRequestID() string {
	return defaultGenerator.newIdentifier("input")
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		uuidv7, err := uuid.NewV7()
		if err == nil {
			body = uuidv7.String()
			break
		}
		fallthrough
	case StrategyKSUID:
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}

	return fmt.Sprintf("%s-%s", prefix, body)
}
