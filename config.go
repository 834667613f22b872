// Copyright (C) 2023 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package spindle

import (
	"fmt"
	"os"
	"time"

	"github.com/SnellerInc/spindle/commitlog"
	"sigs.k8s.io/yaml"
)

// Config is the database configuration, loadable from
// YAML.
type Config struct {
	// DataDir is the root directory; the commitlog
	// lives in <DataDir>/clog and the object store in
	// <DataDir>/objects.
	DataDir string `json:"dataDir"`
	// MaxPages bounds the shared page pool (0 is
	// unlimited).
	MaxPages int `json:"maxPages"`
	// Durability selects the sync policy: "sync"
	// (default), "interval", or "none".
	Durability string `json:"durability"`
	// SyncInterval is the group-sync period under
	// "interval", e.g. "500ms".
	SyncInterval string `json:"syncInterval"`
	// SegmentSize bounds commitlog segments in bytes
	// (0 uses the commitlog default).
	SegmentSize int64 `json:"segmentSize"`
	// SnapshotCompression is "zstd" (default) or "s2".
	SnapshotCompression string `json:"snapshotCompression"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if _, err := cfg.logOptions(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) logOptions() (commitlog.Options, error) {
	opts := commitlog.Options{MaxSegmentSize: c.SegmentSize}
	switch c.Durability {
	case "", "sync":
		opts.Policy = commitlog.SyncEveryCommit
	case "interval":
		opts.Policy = commitlog.SyncInterval
	case "none":
		opts.Policy = commitlog.SyncNever
	default:
		return opts, fmt.Errorf("unknown durability policy %q", c.Durability)
	}
	if c.SyncInterval != "" {
		d, err := time.ParseDuration(c.SyncInterval)
		if err != nil {
			return opts, fmt.Errorf("bad syncInterval: %w", err)
		}
		opts.Interval = d
	}
	return opts, nil
}

func (c *Config) compression() string {
	if c.SnapshotCompression == "" {
		return "zstd"
	}
	return c.SnapshotCompression
}
