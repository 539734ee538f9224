// Package storage is the client's "local storage": a small key/value store
// holding JSON blobs under namespaced keys.
package storage

import (
	"fmt"
	"strings"
)

const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// KV persists opaque values by key. Get reports presence separately so a
// missing key is not an error.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Open opens the store for driver at path.
func Open(driver, path string) (KV, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return OpenSQLite(path)
	case DriverBolt:
		return OpenBolt(path)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
