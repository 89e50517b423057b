// Package secure provides encrypted credential storage for a project.
//
// Credentials are stored as a JSON map encrypted with AES-256-GCM and
// written to credentials-config.dat inside the project metadata
// directory. The encryption key is derived from a local key file via
// scrypt; the key file is created on first use.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	// StorageFile is the encrypted credential store file name.
	StorageFile = "credentials-config.dat"

	// KeyFile holds the local secret the encryption key derives from.
	KeyFile = ".key"

	keySize   = 32
	saltSize  = 16
	nonceSize = 12

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrStorageClosed  = errors.New("secure storage is closed")
)

// Storage is a file-backed encrypted key/value store.
type Storage struct {
	mu       sync.RWMutex
	dir      string
	inMemory bool
	closed   bool
	secrets  map[string]string
	loaded   bool
}

// NewStorage creates secure storage rooted at metadataDir. Nothing is
// read from disk until the first access.
func NewStorage(metadataDir string, inMemory bool) *Storage {
	return &Storage{
		dir:      metadataDir,
		inMemory: inMemory,
		secrets:  make(map[string]string),
	}
}

// Get returns the secret stored under name.
func (s *Storage) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrStorageClosed
	}
	if err := s.ensureLoaded(); err != nil {
		return "", err
	}

	v, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

// Set stores a secret and persists the store. An empty value deletes
// the secret.
func (s *Storage) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStorageClosed
	}
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	if value == "" {
		delete(s.secrets, name)
	} else {
		s.secrets[name] = value
	}
	return s.save()
}

// Names returns the stored secret names.
func (s *Storage) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStorageClosed
	}
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		out = append(out, name)
	}
	return out, nil
}

// Close releases the storage. Further calls return ErrStorageClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.secrets = nil
	return nil
}

func (s *Storage) ensureLoaded() error {
	if s.loaded || s.inMemory {
		s.loaded = true
		return nil
	}

	path := filepath.Join(s.dir, StorageFile)
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credential store: %w", err)
	}

	plaintext, err := s.decrypt(blob)
	if err != nil {
		return fmt.Errorf("failed to decrypt credential store: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return fmt.Errorf("credential store corrupted: %w", err)
	}

	s.secrets = secrets
	s.loaded = true
	return nil
}

func (s *Storage) save() error {
	if s.inMemory {
		return nil
	}

	plaintext, err := json.Marshal(s.secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal credential store: %w", err)
	}

	blob, err := s.encrypt(plaintext)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	path := filepath.Join(s.dir, StorageFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, blob, 0600); err != nil {
		return fmt.Errorf("failed to write credential store: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename credential store: %w", err)
	}
	return nil
}

// encrypt produces salt || nonce || ciphertext.
func (s *Storage) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := s.keyedGCM(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltSize+nonceSize+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	return gcm.Seal(blob, nonce, plaintext, nil), nil
}

func (s *Storage) decrypt(blob []byte) ([]byte, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, errors.New("credential store truncated")
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	gcm, err := s.keyedGCM(salt)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *Storage) keyedGCM(salt []byte) (cipher.AEAD, error) {
	secret, err := s.localSecret()
	if err != nil {
		return nil, err
	}

	key, err := scrypt.Key(secret, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// localSecret reads the key file, creating it with random content on
// first use.
func (s *Storage) localSecret() ([]byte, error) {
	path := filepath.Join(s.dir, KeyFile)
	secret, err := os.ReadFile(path)
	if err == nil {
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	secret = make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return secret, nil
}
