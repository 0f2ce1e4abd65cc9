// Package keyring caches the config password in the OS keyring, keyed by
// the absolute path of the config file.
package keyring

import (
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const serviceName = "freedisk"

// Account returns the keyring account name for a config file
func Account(configPath string) string {
	if abs, err := filepath.Abs(configPath); err == nil {
		return abs
	}
	return configPath
}

// SavePassword stores a password in the OS keyring
func SavePassword(configPath string, password string) error {
	return keyring.Set(serviceName, Account(configPath), password)
}

// GetPassword retrieves a password from the OS keyring
func GetPassword(configPath string) (string, error) {
	return keyring.Get(serviceName, Account(configPath))
}

// DeletePassword removes a password from the OS keyring
func DeletePassword(configPath string) error {
	return keyring.Delete(serviceName, Account(configPath))
}

// HasPassword checks if a password is stored in the keyring
func HasPassword(configPath string) bool {
	_, err := GetPassword(configPath)
	return err == nil
}
