package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the sealing key from the passphrase.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
	keyLen       uint32 = chacha20poly1305.KeySize
	saltLen             = 16
)

// File is a CredentialStore sealed on disk with XChaCha20-Poly1305 under an
// Argon2id-derived key. Each access group lives in its own file, so a
// companion process pointed at the same directory and passphrase reads the
// same group. Writes go through a temp file and rename.
type File struct {
	dir        string
	passphrase []byte

	mu sync.Mutex
}

// NewFile creates a file-backed store rooted at dir. The directory is
// created if missing.
func NewFile(dir string, passphrase []byte) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keyring: create dir: %w", err)
	}
	return &File{dir: dir, passphrase: append([]byte(nil), passphrase...)}, nil
}

// Save writes the value under key within the named group.
func (f *File) Save(key string, value []byte, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read(group)
	if err != nil {
		return err
	}
	entries[key] = append([]byte(nil), value...)
	return f.write(group, entries)
}

// Load returns the stored value, or (nil, nil) when absent.
func (f *File) Load(key string, group string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read(group)
	if err != nil {
		return nil, err
	}
	v, ok := entries[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (f *File) Delete(key string, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read(group)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return f.write(group, entries)
}

func (f *File) path(group string) string {
	// Group names are reverse-DNS-ish; flatten them for the filesystem.
	name := base64.RawURLEncoding.EncodeToString([]byte(group))
	return filepath.Join(f.dir, name+".keyring")
}

// read loads and unseals a group file. A missing file is an empty group.
func (f *File) read(group string) (map[string][]byte, error) {
	raw, err := os.ReadFile(f.path(group))
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string][]byte), nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring: read group %q: %w", group, err)
	}
	if len(raw) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("keyring: group %q: sealed blob too short", group)
	}

	salt := raw[:saltLen]
	nonce := raw[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	ct := raw[saltLen+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(f.derive(salt))
	if err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ct, []byte(group))
	if err != nil {
		return nil, fmt.Errorf("keyring: unseal group %q: %w", group, err)
	}

	var entries map[string][]byte
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("keyring: decode group %q: %w", group, err)
	}
	return entries, nil
}

// write seals and atomically replaces a group file. An empty group removes
// the file.
func (f *File) write(group string, entries map[string][]byte) error {
	path := f.path(group)
	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("keyring: remove group %q: %w", group, err)
		}
		return nil
	}

	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("keyring: encode group %q: %w", group, err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}

	aead, err := chacha20poly1305.NewX(f.derive(salt))
	if err != nil {
		return fmt.Errorf("keyring: %w", err)
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plain, []byte(group))...)

	tmp, err := os.CreateTemp(f.dir, ".keyring-*")
	if err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("keyring: write group %q: %w", group, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("keyring: write group %q: %w", group, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("keyring: replace group %q: %w", group, err)
	}
	return nil
}

func (f *File) derive(salt []byte) []byte {
	return argon2.IDKey(f.passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
}
