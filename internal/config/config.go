// Package config loads the compiler/linker/kernel defaults that spec.md
// leaves as constants (default stack/heap request, arena pool sizes, task
// table limit) from an optional TOML file, with environment overrides on
// top — the same two-layer scheme the teacher compiler used for its own
// target defaults, generalized from flag parsing to a file plus env.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
)

// Config holds every tunable the spec names as "implementation-defined" or
// "kernel default".
type Config struct {
	Arch string `toml:"arch"` // always "thumbv6m" today; the loader's arch check uses mimi.ArchThumb, not this field

	DefaultStackRequest uint32 `toml:"default_stack_request"`
	DefaultHeapRequest  uint32 `toml:"default_heap_request"`

	KernelArenaSize uint32 `toml:"kernel_arena_size"`
	UserArenaSize   uint32 `toml:"user_arena_size"`
	ArenaSplitThreshold uint32 `toml:"arena_split_threshold"`
	MaxArenaBlocks  int    `toml:"max_arena_blocks"`

	MaxTasks     int `toml:"max_tasks"`
	ParserMaxErrors int `toml:"parser_max_errors"`

	SectorSize int `toml:"sector_size"`
}

// Default returns the spec-mandated defaults: 4096 B stack, 8192 B heap
// (section 4.8), 64 B split threshold (section 4.1), 512 B sectors
// (section 4.2), and conservative pool/table sizes sized for a 200-500 KB
// microcontroller.
func Default() Config {
	return Config{
		Arch:                "thumbv6m",
		DefaultStackRequest: 4096,
		DefaultHeapRequest:  8192,
		KernelArenaSize:     64 * 1024,
		UserArenaSize:       256 * 1024,
		ArenaSplitThreshold: 64,
		MaxArenaBlocks:      256,
		MaxTasks:            16,
		ParserMaxErrors:     10,
		SectorSize:          512,
	}
}

// Load reads cfg from path (if non-empty) over the defaults, then applies
// MIMIC_* environment overrides. A missing path is not an error: callers
// that never configured a file simply get Default() plus env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "loading config from %s", path)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DefaultStackRequest = uint32(env.Int("MIMIC_DEFAULT_STACK", int(cfg.DefaultStackRequest)))
	cfg.DefaultHeapRequest = uint32(env.Int("MIMIC_DEFAULT_HEAP", int(cfg.DefaultHeapRequest)))
	cfg.KernelArenaSize = uint32(env.Int("MIMIC_KERNEL_ARENA", int(cfg.KernelArenaSize)))
	cfg.UserArenaSize = uint32(env.Int("MIMIC_USER_ARENA", int(cfg.UserArenaSize)))
	cfg.MaxTasks = env.Int("MIMIC_MAX_TASKS", cfg.MaxTasks)
}
