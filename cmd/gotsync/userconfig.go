package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/odvcencio/gotsync/pkg/repo"
)

// userConfig is the per-user settings file, ~/.config/gotsync/config.toml
// unless $GOTSYNC_CONFIG names another path.
//
//	log_level = "info"
//
//	[user]
//	name = "Alice"
//	email = "alice@example.com"
//
//	[signing]
//	enabled = true
//	key = "~/.ssh/id_ed25519"
//
//	[merge]
//	ff = "only"
type userConfig struct {
	LogLevel string `toml:"log_level"`
	User     struct {
		Name  string `toml:"name"`
		Email string `toml:"email"`
	} `toml:"user"`
	Signing struct {
		Enabled bool   `toml:"enabled"`
		Key     string `toml:"key"`
	} `toml:"signing"`
	Merge struct {
		FF string `toml:"ff"`
	} `toml:"merge"`
}

func userConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("GOTSYNC_CONFIG")); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "gotsync", "config.toml"), nil
}

// loadUserConfig reads path. A missing file yields the zero config.
func loadUserConfig(path string) (*userConfig, error) {
	cfg := &userConfig{}
	md, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("user config %s: unknown key %q", path, undecoded[0].String())
	}
	if _, err := repo.ParseFastForwardPreference(cfg.Merge.FF); err != nil {
		return nil, fmt.Errorf("user config %s: merge.ff: %w", path, err)
	}
	return cfg, nil
}

func (u *userConfig) logLevel() string {
	if env := strings.TrimSpace(os.Getenv("GOTSYNC_LOG_LEVEL")); env != "" {
		return env
	}
	return strings.TrimSpace(u.LogLevel)
}

func (u *userConfig) author() string {
	if env := strings.TrimSpace(os.Getenv("GOTSYNC_AUTHOR")); env != "" {
		return env
	}
	name, email := strings.TrimSpace(u.User.Name), strings.TrimSpace(u.User.Email)
	switch {
	case name != "" && email != "":
		return name + " <" + email + ">"
	default:
		return name
	}
}

// fastForward returns the merge preference for r: the repository's
// merge.ff when set, otherwise the user default.
func (u *userConfig) fastForward(r *repo.Repo) (repo.FastForwardPreference, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return repo.FastForwardDefault, err
	}
	if cfg.Get("merge", "ff") != "" {
		return cfg.FastForward(), nil
	}
	return repo.ParseFastForwardPreference(u.Merge.FF)
}
