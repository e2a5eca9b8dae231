package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink persists finished batch artifacts under hierarchical keys. Keys use
// forward slashes regardless of platform.
type Sink interface {
	// Store persists the file at localPath under key and removes the local
	// temp artifact on success.
	Store(ctx context.Context, localPath, key string) error

	// StoreJSON marshals v and persists it under key.
	StoreJSON(ctx context.Context, key string, v any) error
}

// LocalSink writes artifacts into a directory tree rooted at Dir.
type LocalSink struct {
	Dir string
}

func (s LocalSink) Store(_ context.Context, localPath, key string) error {
	dest := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.Rename(localPath, dest); err == nil {
		return nil
	}
	// temp dir may sit on another filesystem
	if err := copyFile(localPath, dest); err != nil {
		return err
	}
	return os.Remove(localPath)
}

func (s LocalSink) StoreJSON(_ context.Context, key string, v any) error {
	dest := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return os.WriteFile(dest, data, 0o644)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
