package testutil

import (
	"fmt"
	"sync"
)

// FixedFlowGenerator generates the same flow token every time.
//
// Useful when every mutation of a test, including those from separate
// requests, should share one flow token.
//
// Thread-safety: FixedFlowGenerator is stateless and safe for concurrent use.
type FixedFlowGenerator struct {
	token string
}

// NewFixedFlowGenerator creates a new fixed flow token generator.
//
// If token is empty, Generate() returns "test-flow-default".
func NewFixedFlowGenerator(token string) *FixedFlowGenerator {
	if token == "" {
		token = "test-flow-default"
	}
	return &FixedFlowGenerator{token: token}
}

// Generate returns the fixed flow token.
//
// Implements capture.FlowTokenGenerator interface.
func (g *FixedFlowGenerator) Generate() string {
	return g.token
}

// SequenceFlowGenerator generates "<prefix>-1", "<prefix>-2", ... so each
// request of a scenario gets a distinct, predictable flow token.
type SequenceFlowGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceFlowGenerator creates a sequence generator. An empty prefix
// uses "flow".
func NewSequenceFlowGenerator(prefix string) *SequenceFlowGenerator {
	if prefix == "" {
		prefix = "flow"
	}
	return &SequenceFlowGenerator{prefix: prefix}
}

// Generate returns the next token in the sequence.
func (g *SequenceFlowGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
