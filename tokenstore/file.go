package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// fileContents is the on-disk layout: one record per client id so several
// clients can share a token file.
type fileContents struct {
	Tokens map[string]Record `json:"tokens"`
}

// FileBackend is the durable backend: a JSON file replaced atomically under
// a cross-process lock.
type FileBackend struct {
	path     string
	clientID string
	lock     lockPolicy
}

// NewFileBackend stores the record for clientID in the file at path.
func NewFileBackend(path, clientID string) *FileBackend {
	return &FileBackend{path: path, clientID: clientID, lock: defaultLockPolicy}
}

func (f *FileBackend) Name() string { return "durable" }

// Path returns the token file location.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Load(context.Context) (Record, error) {
	contents, err := f.read()
	if err != nil {
		return nil, err
	}
	rec := contents.Tokens[f.clientID]
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

func (f *FileBackend) Save(ctx context.Context, rec Record) error {
	return f.update(ctx, func(cur Record) {
		for k, v := range rec {
			cur[k] = v
		}
	})
}

func (f *FileBackend) Delete(ctx context.Context, keys ...string) error {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return f.update(ctx, func(cur Record) {
		for _, k := range keys {
			delete(cur, k)
		}
	})
}

func (f *FileBackend) read() (fileContents, error) {
	var contents fileContents
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return contents, nil
	}
	if err != nil {
		return contents, err
	}
	if err := json.Unmarshal(data, &contents); err != nil {
		return contents, fmt.Errorf("failed to parse token file: %w", err)
	}
	return contents, nil
}

// update applies fn to this client's record, leaving other clients intact.
func (f *FileBackend) update(ctx context.Context, fn func(Record)) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	lock, err := f.lock.acquire(ctx, f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.release() //nolint:errcheck

	// A corrupt file is replaced rather than blocking every future write.
	contents, err := f.read()
	if err != nil {
		contents = fileContents{}
	}
	if contents.Tokens == nil {
		contents.Tokens = make(map[string]Record)
	}
	cur := contents.Tokens[f.clientID]
	if cur == nil {
		cur = Record{}
	}
	fn(cur)
	if len(cur) == 0 {
		delete(contents.Tokens, f.clientID)
	} else {
		contents.Tokens[f.clientID] = cur
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
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
