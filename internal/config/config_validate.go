// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tomtom215/snapvault/internal/validation"
)

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateBackup(); err != nil {
		return err
	}

	if err := c.validateTool(); err != nil {
		return err
	}

	if err := c.validateRemote(); err != nil {
		return err
	}

	if err := c.validateNotify(); err != nil {
		return err
	}

	if err := c.validateAuthz(); err != nil {
		return err
	}

	return c.validateIntegrity()
}

// validateBackup checks directory layout and the encryption key.
func (c *Config) validateBackup() error {
	if !filepath.IsAbs(c.Backup.Dir) {
		return fmt.Errorf("BACKUP_DIR must be an absolute path, got %q", c.Backup.Dir)
	}
	if !filepath.IsAbs(c.Backup.WorkDir) {
		return fmt.Errorf("BACKUP_WORK_DIR must be an absolute path, got %q", c.Backup.WorkDir)
	}
	if filepath.Clean(c.Backup.Dir) == filepath.Clean(c.Backup.WorkDir) {
		return fmt.Errorf("BACKUP_WORK_DIR must differ from BACKUP_DIR")
	}
	if c.Policy.EncryptionEnabled && len(c.Backup.EncryptionKey) < 16 {
		return fmt.Errorf("BACKUP_ENCRYPTION_KEY must be at least 16 characters when ENCRYPTION_ENABLED=true")
	}
	return nil
}

// validateTool requires the dump and restore commands.
func (c *Config) validateTool() error {
	if len(c.Tool.DumpCommand) == 0 {
		return fmt.Errorf("DUMP_COMMAND is required")
	}
	if len(c.Tool.RestoreCommand) == 0 {
		return fmt.Errorf("RESTORE_COMMAND is required")
	}
	return nil
}

// validateRemote requires a target when remote storage is enabled.
func (c *Config) validateRemote() error {
	if !c.Policy.RemoteStorageEnabled {
		return nil
	}
	if c.Remote.Dir == "" {
		return fmt.Errorf("REMOTE_DIR is required when REMOTE_STORAGE_ENABLED=true")
	}
	if filepath.Clean(c.Remote.Dir) == filepath.Clean(c.Backup.Dir) {
		return fmt.Errorf("REMOTE_DIR must differ from BACKUP_DIR")
	}
	return nil
}

// validateNotify checks the webhook URL scheme.
func (c *Config) validateNotify() error {
	if c.Notify.WebhookURL == "" {
		return nil
	}
	u, err := url.Parse(c.Notify.WebhookURL)
	if err != nil {
		return fmt.Errorf("NOTIFY_WEBHOOK_URL failed to parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("NOTIFY_WEBHOOK_URL scheme must be http or https, got: %s", u.Scheme)
	}
	if len(c.Notify.Recipients) == 0 {
		return fmt.Errorf("NOTIFY_RECIPIENTS is required when NOTIFY_WEBHOOK_URL is set")
	}
	return nil
}

// validateAuthz checks operator role assignments.
func (c *Config) validateAuthz() error {
	for _, entry := range c.Authz.Operators {
		user, role, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(user) == "" || strings.TrimSpace(role) == "" {
			return fmt.Errorf("AUTHZ_OPERATORS entry %q must be user=role", entry)
		}
	}
	return nil
}

// validateIntegrity requires a path for the persistent store.
func (c *Config) validateIntegrity() error {
	if !c.Integrity.InMemory && c.Integrity.Path == "" {
		return fmt.Errorf("INTEGRITY_PATH is required unless INTEGRITY_IN_MEMORY=true")
	}
	if c.Integrity.LockWait < 0 {
		return fmt.Errorf("INTEGRITY_LOCK_WAIT must not be negative, got %s", c.Integrity.LockWait)
	}
	return nil
}
