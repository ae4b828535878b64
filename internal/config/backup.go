package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// BackupSuffix is inserted between the config name and the timestamp.
	BackupSuffix = ".bak"
	// MaxBackups is the number of user config backups kept.
	MaxBackups = 3
)

// GetUserConfigDir returns the directory holding the user config file.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// InitUserConfig writes a default user config. An existing file is kept
// unless force is set, in which case it is backed up first. It returns the
// backup path, or "" when nothing was backed up.
func InitUserConfig(force bool) (string, error) {
	path := GetUserConfigPath()
	var backup string
	if UserConfigExists() {
		if !force {
			return "", fmt.Errorf("user config already exists at %s (use --force to overwrite)", path)
		}
		var err error
		if backup, err = BackupUserConfig(); err != nil {
			return "", err
		}
	}
	if err := NewConfig().WriteYAML(path); err != nil {
		return backup, err
	}
	return backup, nil
}

// BackupUserConfig copies the user config to a timestamped sibling file and
// prunes backups beyond MaxBackups.
func BackupUserConfig() (string, error) {
	path := GetUserConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read user config: %w", err)
	}
	backup := path + BackupSuffix + "." + time.Now().Format("20060102-150405.000000000")
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := pruneBackups(); err != nil {
		return backup, err
	}
	return backup, nil
}

// ListUserConfigBackups returns backup files for the user config, newest first.
func ListUserConfigBackups() ([]string, error) {
	dir := GetUserConfigDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(GetUserConfigPath()) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}
	// Timestamps sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

func pruneBackups() error {
	backups, err := ListUserConfigBackups()
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	for _, b := range backups[MaxBackups:] {
		_ = os.Remove(b) // Best effort
	}
	return nil
}
