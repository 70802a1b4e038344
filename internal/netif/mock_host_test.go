package netif

import (
	"context"
	"sync"
)

type mockHost struct {
	mu     sync.Mutex
	ifaces []Interface
	err    error
	upped  []string
}

func (m *mockHost) Interfaces(context.Context) ([]Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]Interface, len(m.ifaces))
	copy(out, m.ifaces)
	return out, nil
}

func (m *mockHost) SetUp(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upped = append(m.upped, name)
	return nil
}
