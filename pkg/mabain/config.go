package mabain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// ConfigFileName is the sidecar config file Open looks for in Dir, read
// before Options' own fields are applied. It is JSONC (JSON with comments
// and trailing commas), parsed with hujson the way the rest of this
// codebase's config sidecars are.
const ConfigFileName = "mabain.jsonc"

// FileConfig is the on-disk shape of mabain.jsonc: everything in Options
// that makes sense to pin per-store rather than per-Open-call. Zero values
// mean "not set in the file"; LoadConfig only overrides an Options field
// when the file sets one.
type FileConfig struct {
	IndexBlockSize      int  `json:"index_block_size,omitempty"`
	DataBlockSize       int  `json:"data_block_size,omitempty"`
	EnablePrefixCache   bool `json:"enable_prefix_cache,omitempty"`
	PrefixCacheCapacity int  `json:"prefix_cache_capacity,omitempty"`
	EnableHashIndex     bool `json:"enable_hash_index,omitempty"`
	HashIndexCapacity   int  `json:"hash_index_capacity,omitempty"`
	MemoryOnly          bool `json:"memory_only,omitempty"`
}

// LoadConfig reads dir/mabain.jsonc if it exists and applies its fields
// onto opt, with opt's already-set fields (non-zero) winning over the
// file. A missing file is not an error; LoadConfig then returns opt
// unchanged.
func LoadConfig(dir string, opt Options) (Options, error) {
	path := filepath.Join(dir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opt, nil
		}

		return opt, fmt.Errorf("%w: read %s: %v", ErrInvalidArg, path, err)
	}

	fc, err := parseFileConfig(data)
	if err != nil {
		return opt, fmt.Errorf("%w: %s: %v", ErrInvalidArg, path, err)
	}

	if opt.IndexBlockSize == 0 {
		opt.IndexBlockSize = fc.IndexBlockSize
	}

	if opt.DataBlockSize == 0 {
		opt.DataBlockSize = fc.DataBlockSize
	}

	if !opt.EnablePrefixCache {
		opt.EnablePrefixCache = fc.EnablePrefixCache
	}

	if opt.PrefixCacheCapacity == 0 {
		opt.PrefixCacheCapacity = fc.PrefixCacheCapacity
	}

	if !opt.EnableHashIndex {
		opt.EnableHashIndex = fc.EnableHashIndex
	}

	if opt.HashIndexCapacity == 0 {
		opt.HashIndexCapacity = fc.HashIndexCapacity
	}

	if !opt.MemoryOnly {
		opt.MemoryOnly = fc.MemoryOnly
	}

	return opt, nil
}

func parseFileConfig(data []byte) (FileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return FileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc FileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

// WriteConfig atomically (over)writes dir/mabain.jsonc, pinning a store's
// block sizes and cache options so later Opens don't need to repeat them
// on every invocation.
func WriteConfig(dir string, fc FileConfig) error {
	buf, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal config: %v", ErrInvalidArg, err)
	}

	path := filepath.Join(dir, ConfigFileName)

	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}
