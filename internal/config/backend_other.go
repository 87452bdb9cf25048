//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// fileBackend keeps config as a flat JSON object under $XDG_CONFIG_HOME.
// Values stay raw until read so a duration written as "2s" or an attempt
// count written as 3 round-trip unchanged.
type fileBackend struct {
	path string
	data map[string]json.RawMessage
	// err is the load failure, if any. Every accessor returns it so a
	// broken file is reported instead of being silently replaced.
	err error
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]json.RawMessage)}
	b.load()
	return b
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "intelwatch", "config.json")
}

func (b *fileBackend) load() {
	data, err := os.ReadFile(b.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return
	case err != nil:
		b.err = fmt.Errorf("reading config file %s: %w", b.path, err)
		return
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return
	}
	if err := json.Unmarshal(data, &b.data); err != nil {
		b.err = fmt.Errorf("parsing config file %s: %w", b.path, err)
	}
}

func (b *fileBackend) lookup(key string) (json.RawMessage, bool, error) {
	if b.err != nil {
		return nil, false, b.err
	}
	raw, ok := b.data[key]
	return raw, ok, nil
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	raw, ok, err := b.lookup(key)
	if err != nil || !ok {
		return "", false, err
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		// Hand-edited files sometimes carry bare numbers for string keys.
		return strings.TrimSpace(string(raw)), true, nil
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	raw, ok, err := b.lookup(key)
	if err != nil || !ok {
		return 0, false, err
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %s", key, raw)
	}
	i, err := n.Int64()
	if err != nil || int64(int(i)) != i {
		return 0, true, fmt.Errorf("value %s for %s is not a valid integer or is out of range", n, key)
	}
	return int(i), true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	return b.set(key, val)
}

func (b *fileBackend) SetInt(key string, val int) error {
	return b.set(key, val)
}

func (b *fileBackend) Delete(key string) error {
	if b.err != nil {
		return b.err
	}
	delete(b.data, key)
	return b.save()
}

func (b *fileBackend) set(key string, val any) error {
	if b.err != nil {
		return b.err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	b.data[key] = raw
	return b.save()
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o600)
}
