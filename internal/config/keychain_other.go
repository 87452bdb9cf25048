//go:build !darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Without a system keychain, secrets live in a 0600 JSON file next to the
// user's data, keyed "service.account".
func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "intelwatch", "secrets.json")
}

func keychainGet(service, account string) ([]byte, error) {
	v, ok, err := newFileBackend(secretsFilePath()).GetString(service + "." + account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no %s secret stored for %s", account, service)
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	return newFileBackend(secretsFilePath()).SetString(service+"."+account, value)
}
