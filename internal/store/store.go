// Package store keeps generated worker programs and their bundled scripts,
// addressed by content hash.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cryguy/spawn/internal/codegen"
)

// ErrNotFound is returned when no artifact exists under a hash.
var ErrNotFound = errors.New("store: artifact not found")

// ArtifactStore is a content-addressed store of programs and scripts.
// Implementations are safe for concurrent use.
type ArtifactStore interface {
	// PutProgram stores prog under its hash. Storing the same hash twice
	// keeps the first copy.
	PutProgram(ctx context.Context, prog *codegen.Program) error
	// Program returns the program stored under hash.
	Program(ctx context.Context, hash string) (*codegen.Program, error)
	// Programs returns every stored program, sorted by hash.
	Programs(ctx context.Context) ([]*codegen.Program, error)
	// PutScript caches the bundled script of a program.
	PutScript(ctx context.Context, hash, script string) error
	// Script returns a cached bundled script.
	Script(ctx context.Context, hash string) (string, error)
	Close() error
}

// Memory is an ArtifactStore held in process memory.
type Memory struct {
	mu       sync.RWMutex
	programs map[string]*codegen.Program
	scripts  map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		programs: make(map[string]*codegen.Program),
		scripts:  make(map[string]string),
	}
}

func (m *Memory) PutProgram(_ context.Context, prog *codegen.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.programs[prog.Hash]; !ok {
		m.programs[prog.Hash] = prog
	}
	return nil
}

func (m *Memory) Program(_ context.Context, hash string) (*codegen.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *Memory) Programs(_ context.Context) ([]*codegen.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*codegen.Program, 0, len(m.programs))
	for _, p := range m.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

func (m *Memory) PutScript(_ context.Context, hash, script string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[hash] = script
	return nil
}

func (m *Memory) Script(_ context.Context, hash string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scripts[hash]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (m *Memory) Close() error { return nil }
