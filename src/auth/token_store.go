package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"nexusdb/src/helpers"
)

// TokenHash is an argon2id digest with its parameters, so hashes survive
// parameter changes.
type TokenHash struct {
	Hash    []byte `json:"hash"`
	Salt    []byte `json:"salt"`
	Method  string `json:"method"`  // "argon2id"
	Time    uint32 `json:"time"`    // time parameter for Argon2
	Memory  uint32 `json:"memory"`  // memory parameter in KiB
	Threads uint8  `json:"threads"` // threads parameter
	KeyLen  uint32 `json:"keylen"`  // length of the hash in bytes
}

// PermanentToken is a long-lived bearer credential. The plaintext is shown
// once at creation and only its hash is kept.
type PermanentToken struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TokenHash TokenHash `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
}

// TokenStore manages secure storage of permanent tokens
type TokenStore struct {
	encryptionKey []byte           // Key used to encrypt the storage file
	filePath      string           // Path to the storage file
	tokens        []PermanentToken // In-memory cache of tokens
	mu            sync.RWMutex     // Mutex for thread safety
	dirty         bool             // Whether the store has unsaved changes
}

// NewTokenStore creates a new token store
func NewTokenStore(filePath string, encryptionKeyString string) (*TokenStore, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Convert encryption key string to bytes (32 bytes for AES-256)
	encryptionKey := []byte(encryptionKeyString)
	if len(encryptionKey) < 32 {
		// Pad the key if it's too short
		paddedKey := make([]byte, 32)
		copy(paddedKey, encryptionKey)
		encryptionKey = paddedKey
	} else if len(encryptionKey) > 32 {
		// Truncate if too long
		encryptionKey = encryptionKey[:32]
	}

	store := &TokenStore{
		encryptionKey: encryptionKey,
		filePath:      filePath,
		tokens:        []PermanentToken{},
		dirty:         false,
	}

	// Load existing tokens if the file exists
	if _, err := os.Stat(filePath); err == nil {
		if err := store.Load(); err != nil {
			return nil, fmt.Errorf("failed to load token store: %w", err)
		}
	}

	return store, nil
}

// Issue creates a named permanent token and returns its plaintext, which is
// never recoverable afterwards.
func (s *TokenStore) Issue(name string) (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	plaintext := hex.EncodeToString(raw)

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := TokenHash{
		Salt:    salt,
		Method:  "argon2id",
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
	}
	hash.Hash = argon2.IDKey([]byte(plaintext), salt, hash.Time, hash.Memory, hash.Threads, hash.KeyLen)

	s.mu.Lock()
	s.tokens = append(s.tokens, PermanentToken{
		ID:        helpers.GenerateUUID(),
		Name:      name,
		TokenHash: hash,
		CreatedAt: time.Now(),
	})
	s.dirty = true
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return "", err
	}
	return plaintext, nil
}

// Verify checks a presented token against every stored hash.
func (s *TokenStore) Verify(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stored := range s.tokens {
		// Hash the token using the same parameters and salt
		hash := argon2.IDKey(
			[]byte(token),
			stored.TokenHash.Salt,
			stored.TokenHash.Time,
			stored.TokenHash.Memory,
			stored.TokenHash.Threads,
			stored.TokenHash.KeyLen,
		)

		// Compare the hashes (constant-time comparison to prevent timing attacks)
		if SlowEqual(hash, stored.TokenHash.Hash) {
			return true
		}
	}
	return false
}

// Revoke removes a token by name.
func (s *TokenStore) Revoke(name string) error {
	s.mu.Lock()
	kept := s.tokens[:0]
	found := false
	for _, t := range s.tokens {
		if t.Name == name {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	s.tokens = kept
	if found {
		s.dirty = true
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("no token named '%s'", name)
	}
	return s.Save()
}

// ListTokens returns the names of all stored tokens
func (s *TokenStore) ListTokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tokens))
	for i, t := range s.tokens {
		names[i] = t.Name
	}
	return names
}

// Save persists the token store to disk
func (s *TokenStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil // Nothing to save
	}

	// Serialize tokens to JSON
	data, err := json.Marshal(s.tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	// Encrypt the data
	encryptedData, err := encrypt(data, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt data: %w", err)
	}

	// Create a temporary file
	tempFile, err := os.CreateTemp(filepath.Dir(s.filePath), "tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempFilePath := tempFile.Name()

	// Write encrypted data to the temporary file
	if _, err := tempFile.Write(encryptedData); err != nil {
		tempFile.Close()
		os.Remove(tempFilePath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	// Close the file before renaming
	if err := tempFile.Close(); err != nil {
		os.Remove(tempFilePath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Set restrictive permissions
	if err := os.Chmod(tempFilePath, 0600); err != nil {
		os.Remove(tempFilePath)
		return fmt.Errorf("failed to set file permissions: %w", err)
	}

	// Atomically replace the old file with the new one
	if err := os.Rename(tempFilePath, s.filePath); err != nil {
		os.Remove(tempFilePath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.dirty = false
	return nil
}

// Load reads the token store from disk
func (s *TokenStore) Load() error {
	// Open the file
	file, err := os.Open(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	// Read encrypted data
	encryptedData, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	// Decrypt the data
	data, err := decrypt(encryptedData, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt data: %w", err)
	}

	// Unmarshal the JSON
	var tokens []PermanentToken
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("failed to unmarshal tokens: %w", err)
	}

	s.tokens = tokens
	return nil
}
