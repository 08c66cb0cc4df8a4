package vault

import (
	"context"

	"github.com/and161185/sessionkit/internal/storage"
)

// Memory is an unencrypted, in-process Vault for tests and ephemeral sessions.
type Memory struct {
	*storage.Memory
}

// NewMemory returns an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{Memory: storage.NewMemory()}
}

var (
	_ Vault = (*Memory)(nil)
	_ Vault = (*Encrypted)(nil)
)

// Has reports whether key is present.
func (m *Memory) Has(key string) bool {
	_, ok, _ := m.Memory.Get(context.Background(), key)
	return ok
}
