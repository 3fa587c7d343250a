package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daniellavrushin/httpcopy/log"
)

type MigrationFunc func(*Config) error

var (
	CurrentConfigVersion = len(migrationRegistry)
	MinSupportedVersion  = 0
)

var migrationRegistry = map[int]MigrationFunc{
	0: migrateV0to1, // url_prefix string -> filter.url_prefixes
	1: migrateV1to2,
}

// Migration: v0 -> v1 (single url_prefix becomes a prefix list)
func migrateV0to1(c *Config) error {
	log.Tracef("Migration v0->v1: Moving url_prefix into filter.url_prefixes")

	prefix := strings.TrimSpace(c.LegacyURLPrefix)
	c.LegacyURLPrefix = ""
	if prefix == "" {
		return nil
	}
	for _, p := range c.Filter.URLPrefixes {
		if p == prefix {
			return nil
		}
	}
	c.Filter.URLPrefixes = append(c.Filter.URLPrefixes, prefix)
	return nil
}

// Migration: v1 -> v2 (forwarder timeouts and worker queue added)
func migrateV1to2(c *Config) error {
	log.Tracef("Migration v1->v2: Initializing forwarder timeouts and worker queue")

	if c.Forwarder.ConnectTimeoutMs == 0 {
		c.Forwarder.ConnectTimeoutMs = DefaultConfig.Forwarder.ConnectTimeoutMs
	}
	if c.Forwarder.ReadTimeoutMs == 0 {
		c.Forwarder.ReadTimeoutMs = DefaultConfig.Forwarder.ReadTimeoutMs
	}
	if c.Forwarder.ShutdownGraceSec == 0 {
		c.Forwarder.ShutdownGraceSec = DefaultConfig.Forwarder.ShutdownGraceSec
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = DefaultConfig.Workers.QueueSize
	}
	return nil
}

func (c *Config) LoadWithMigration(path string) error {
	if path == "" {
		log.Tracef("config path is not defined")
		return nil
	}

	data, err := readConfigFile(path)
	if err != nil {
		return err
	}

	// A file without "version" predates versioning.
	c.Version = 0
	if err := json.Unmarshal(data, c); err != nil {
		return log.Errorf("failed to parse config file: %v", err)
	}

	if c.Version < CurrentConfigVersion {
		log.Infof("Config version %d is older than current version %d, migrating",
			c.Version, CurrentConfigVersion)
		if err := c.applyMigrations(c.Version); err != nil {
			return err
		}
	}

	return nil
}

// applyMigrations applies all migrations from startVersion to CurrentConfigVersion
func (c *Config) applyMigrations(startVersion int) error {
	if startVersion < MinSupportedVersion {
		return fmt.Errorf("config version %d is no longer supported", startVersion)
	}
	for v := startVersion; v < CurrentConfigVersion; v++ {
		migrationFunc, exists := migrationRegistry[v]
		if !exists {
			return fmt.Errorf("no migration path from version %d to %d", v, v+1)
		}

		log.Infof("Applying migration: v%d -> v%d", v, v+1)
		if err := migrationFunc(c); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
		c.Version = v + 1
	}
	return nil
}
