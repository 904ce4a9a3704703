package refstore

import (
	"context"
	"sync"

	"github.com/verificaicode/verifica-ai/internal/types"
)

// Memory is the in-process Store: a mutex-guarded map keyed by sender id.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*types.SenderState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*types.SenderState)}
}

var _ Store = (*Memory)(nil)

// Get returns a copy of the sender's slot.
func (m *Memory) Get(_ context.Context, senderID string) (*types.SenderState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.slots[senderID]
	if !ok {
		return nil, false, nil
	}
	// Copy so callers never share the stored item.
	return &types.SenderState{Item: state.Item.Snapshot(), MayRespond: state.MayRespond}, true, nil
}

// Put overwrites the sender's slot.
func (m *Memory) Put(_ context.Context, senderID string, item *types.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots[senderID] = &types.SenderState{Item: item.Snapshot(), MayRespond: true}
	return nil
}

// Suppress clears MayRespond on an existing slot.
func (m *Memory) Suppress(_ context.Context, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.slots[senderID]; ok {
		state.MayRespond = false
	}
	return nil
}
