// Package storage persists enrolled face templates, one file per user.
// Files are optionally encrypted at rest using NaCl secretbox and are always
// replaced as a whole.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/google/renameio"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrStorage matches every StorageError via errors.Is.
var ErrStorage = errors.New("template storage error")

// ErrInvalidUser is returned for user names that cannot be used as file names.
var ErrInvalidUser = errors.New("invalid user name")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ErrTemplateNotFound is returned when no template carries the requested id.
var ErrTemplateNotFound = errors.New("template not found")

// StorageError describes a failed read, parse or write of a template file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("template store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// FileStore keeps each user's TemplateSet in its own file under dir.
type FileStore struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStore creates a FileStore rooted at dir, creating dir if needed.
func NewFileStore(dir string, encryptionEnabled bool) (*FileStore, error) {
	fs := &FileStore{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		fs.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &StorageError{Op: "init", Path: dir, Err: err}
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information,
// tying the encrypted templates to this machine.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facegate-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}

// Path returns the template file for user.
func (fs *FileStore) Path(user string) string {
	ext := ".json"
	if fs.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(fs.dir, user+ext)
}

func validUser(user string) error {
	if user == "" || user == "." || user == ".." || strings.ContainsAny(user, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidUser, user)
	}
	return nil
}

// Load reads the templates for user. When no file exists yet an empty set is
// created and persisted.
func (fs *FileStore) Load(user string) (*TemplateSet, error) {
	if err := validUser(user); err != nil {
		return nil, err
	}
	path := fs.Path(user)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		set := NewTemplateSet(user)
		if err := fs.Save(set); err != nil {
			return nil, err
		}
		logging.Debugf("Created empty template file for: %s", user)
		return set, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, &StorageError{Op: "decrypt", Path: path, Err: err}
		}
	}

	set := NewTemplateSet(user)
	if err := json.Unmarshal(data, &set.Templates); err != nil {
		return nil, &StorageError{Op: "parse", Path: path, Err: err}
	}
	if set.Templates == nil {
		set.Templates = []Template{}
	}

	logging.Debugf("Loaded %d template(s) for: %s", set.Len(), user)
	return set, nil
}

// Save replaces the persisted templates of set.User with the full set.
// The in-memory set is left untouched when the write fails.
func (fs *FileStore) Save(set *TemplateSet) error {
	if err := validUser(set.User); err != nil {
		return err
	}
	path := fs.Path(set.User)

	templates := set.Templates
	if templates == nil {
		templates = []Template{}
	}
	data, err := json.Marshal(templates)
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return &StorageError{Op: "encrypt", Path: path, Err: err}
		}
	}

	if err := renameio.WriteFile(path, data, 0600); err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}

	logging.Debugf("Saved %d template(s) for: %s", set.Len(), set.User)
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
