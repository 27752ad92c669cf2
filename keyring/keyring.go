// Package keyring provides CredentialStore implementations: an in-memory
// store and an encrypted file-backed store standing in for a platform
// keychain. Both scope entries by a named access group so independent
// processes sharing the group see the same credentials.
package keyring

import "sync"

// Memory is an in-memory CredentialStore. It satisfies the at-least
// process-wide durability the session layer needs and is the default for
// tests and short-lived tools.
type Memory struct {
	mu     sync.RWMutex
	groups map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{groups: make(map[string]map[string][]byte)}
}

// Save writes the value under key within the named group.
func (m *Memory) Save(key string, value []byte, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[group]
	if !ok {
		g = make(map[string][]byte)
		m.groups[group] = g
	}
	g[key] = append([]byte(nil), value...)
	return nil
}

// Load returns the stored value, or (nil, nil) when absent.
func (m *Memory) Load(key string, group string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.groups[group][key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (m *Memory) Delete(key string, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.groups[group], key)
	return nil
}
