package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Record is the token pair saved for one profile.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	Profile      string    `json:"profile"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// errCorruptFile marks a token file that exists but does not parse.
var errCorruptFile = errors.New("failed to parse token file")

// recordMap is the on-disk layout: one record per profile.
type recordMap struct {
	Tokens map[string]*Record `json:"tokens"` // key = profile
}

// File keeps tokens in a JSON file shared by several profiles. Writes are
// serialized across processes with a lock file and land atomically through
// a temp file and rename.
type File struct {
	path    string
	profile string
	mu      sync.Mutex
}

// NewFile returns a store for profile inside the JSON file at path.
func NewFile(path, profile string) (*File, error) {
	if path == "" {
		return nil, errors.New("token file path cannot be empty")
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &File{path: path, profile: profile}, nil
}

// Path returns the token file location.
func (f *File) Path() string {
	return f.path
}

// Load returns the profile's record, or nil when nothing is stored.
func (f *File) Load(_ context.Context) (*Record, error) {
	storageMap, err := f.readMap()
	if err != nil {
		return nil, err
	}
	return storageMap.Tokens[f.profile], nil
}

func (f *File) AccessToken(ctx context.Context) (string, error) {
	rec, err := f.Load(ctx)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.AccessToken, nil
}

func (f *File) RefreshToken(ctx context.Context) (string, error) {
	rec, err := f.Load(ctx)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.RefreshToken, nil
}

// SetTokens saves the pair; an empty refresh keeps the stored one.
func (f *File) SetTokens(ctx context.Context, access, refresh string) error {
	return f.SaveToken(ctx, &oauth2.Token{AccessToken: access, RefreshToken: refresh})
}

// SaveToken saves token with its type and expiry. An empty RefreshToken keeps
// the stored one.
func (f *File) SaveToken(ctx context.Context, token *oauth2.Token) error {
	return f.update(ctx, func(m *recordMap) {
		rec, ok := m.Tokens[f.profile]
		if !ok {
			rec = &Record{Profile: f.profile}
			m.Tokens[f.profile] = rec
		}
		rec.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			rec.RefreshToken = token.RefreshToken
		}
		rec.TokenType = token.TokenType
		rec.ExpiresAt = token.Expiry.UTC()
		rec.UpdatedAt = time.Now().UTC()
	})
}

// Clear removes this profile's record and leaves other profiles untouched.
func (f *File) Clear(ctx context.Context) error {
	return f.update(ctx, func(m *recordMap) {
		delete(m.Tokens, f.profile)
	})
}

// readMap loads the whole file. A missing file is an empty map.
func (f *File) readMap() (*recordMap, error) {
	storageMap := &recordMap{Tokens: make(map[string]*Record)}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return storageMap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	if err := json.Unmarshal(data, storageMap); err != nil {
		return nil, fmt.Errorf("%w: %w", errCorruptFile, err)
	}
	if storageMap.Tokens == nil {
		storageMap.Tokens = make(map[string]*Record)
	}
	return storageMap, nil
}

// update applies fn to the stored map under the in-process mutex and the
// cross-process file lock, then writes the result.
func (f *File) update(ctx context.Context, fn func(*recordMap)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	lock, err := acquireFileLock(ctx, f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	// Reading inside the lock keeps other processes' profiles intact.
	storageMap, err := f.readMap()
	switch {
	case errors.Is(err, errCorruptFile):
		// unparseable content is replaced rather than blocking every write
		storageMap = &recordMap{Tokens: make(map[string]*Record)}
	case err != nil:
		return err
	}

	fn(storageMap)

	data, err := json.MarshalIndent(storageMap, "", "  ")
	if err != nil {
		return err
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
