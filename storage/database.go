package storage

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

const profilesFileName = "profiles.json"

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("profile already exists")
)

// JSONDB stores signing profiles in a single JSON file.
type JSONDB struct {
	mu   sync.Mutex
	path string
}

// Connect opens the profile store in dir, creating the directory and an empty
// file on first use.
func Connect(dir string) (*JSONDB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create profile directory: %w", err)
	}

	db := &JSONDB{path: filepath.Join(dir, profilesFileName)}
	if _, err := os.Stat(db.path); errors.Is(err, os.ErrNotExist) {
		if err := db.write(&fileData{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("could not stat profile file: %w", err)
	}
	return db, nil
}

// Path returns the location of the profile file.
func (db *JSONDB) Path() string {
	return db.path
}

// Profiles returns every stored profile ordered by name.
func (db *JSONDB) Profiles() ([]*Profile, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := db.read()
	if err != nil {
		return nil, err
	}
	out := make([]*Profile, 0, len(data.Profiles))
	for _, pd := range data.Profiles {
		profile, err := decodeProfile(pd)
		if err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetProfile retrieves the profile called name.
func (db *JSONDB) GetProfile(name string) (*Profile, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := db.read()
	if err != nil {
		return nil, err
	}
	for _, pd := range data.Profiles {
		if pd.Name == name {
			return decodeProfile(pd)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// SaveProfile stores privateKey under name. Existing names are never overwritten.
func (db *JSONDB) SaveProfile(name string, privateKey solana.PrivateKey) (*Profile, error) {
	if name == "" {
		return nil, errors.New("profile name must not be empty")
	}
	if len(privateKey) != solana.PrivateKeyLength {
		return nil, fmt.Errorf("invalid private key length: expected %d, got %d", solana.PrivateKeyLength, len(privateKey))
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := db.read()
	if err != nil {
		return nil, err
	}
	for _, pd := range data.Profiles {
		if pd.Name == name {
			return nil, fmt.Errorf("%w: %s", ErrProfileExists, name)
		}
	}

	profile := &Profile{Name: name, PrivateKey: privateKey, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	data.Profiles = append(data.Profiles, profileData{
		Name:       profile.Name,
		PrivateKey: base64.StdEncoding.EncodeToString(privateKey),
		CreatedAt:  profile.CreatedAt,
	})
	if err := db.write(data); err != nil {
		return nil, err
	}
	return profile, nil
}

// CreateProfile generates a fresh keypair and stores it under name.
func (db *JSONDB) CreateProfile(name string) (*Profile, error) {
	privateKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("could not generate private key: %w", err)
	}
	return db.SaveProfile(name, privateKey)
}

// DeleteProfile removes the profile called name.
func (db *JSONDB) DeleteProfile(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := db.read()
	if err != nil {
		return err
	}
	for i, pd := range data.Profiles {
		if pd.Name == name {
			data.Profiles = append(data.Profiles[:i], data.Profiles[i+1:]...)
			return db.write(data)
		}
	}
	return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// Close is a no-op, the file is rewritten on every change.
func (db *JSONDB) Close() error {
	return nil
}

func (db *JSONDB) read() (*fileData, error) {
	raw, err := os.ReadFile(db.path)
	if err != nil {
		return nil, fmt.Errorf("could not read profile file: %w", err)
	}
	data := &fileData{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("could not parse profile file: %w", err)
	}
	return data, nil
}

func (db *JSONDB) write(data *fileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal profiles: %w", err)
	}
	if err := os.WriteFile(db.path, raw, 0600); err != nil {
		return fmt.Errorf("could not write profile file: %w", err)
	}
	return nil
}

func decodeProfile(pd profileData) (*Profile, error) {
	key, err := base64.StdEncoding.DecodeString(pd.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("could not decode private key of %s: %w", pd.Name, err)
	}
	if len(key) != solana.PrivateKeyLength {
		return nil, fmt.Errorf("invalid private key length for %s: expected %d, got %d", pd.Name, solana.PrivateKeyLength, len(key))
	}
	return &Profile{Name: pd.Name, PrivateKey: key, CreatedAt: pd.CreatedAt}, nil
}
