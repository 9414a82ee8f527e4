package repo

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

// Config is the repository-local configuration stored in .got/config using
// git-style sections:
//
//	[user]
//	name = Alice
//	email = alice@example.com
//	[merge]
//	ff = only
//	[remote "origin"]
//	url = https://example.com/got/alice/repo
//	fetch = +refs/heads/*:refs/remotes/origin/*
//	[branch "main"]
//	remote = origin
//	merge = refs/heads/main
type Config struct {
	file *ini.File
}

// RemoteConfig is one [remote "<name>"] section.
type RemoteConfig struct {
	Name  string
	URL   string
	Fetch []string // refspecs; empty means the default mapping
}

var configLoadOptions = ini.LoadOptions{
	AllowShadows:        true,
	IgnoreInlineComment: true,
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{file: ini.Empty(configLoadOptions)}
}

// ParseConfig parses configuration text.
func ParseConfig(data []byte) (*Config, error) {
	f, err := ini.LoadSources(configLoadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &Config{file: f}, nil
}

func (r *Repo) configPath() string {
	return filepath.Join(r.GotDir, "config")
}

// ReadConfig reads .got/config. Missing config returns an empty config.
func (r *Repo) ReadConfig() (*Config, error) {
	data, err := os.ReadFile(r.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

// WriteConfig atomically writes .got/config.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = NewConfig()
	}
	var buf bytes.Buffer
	if _, err := cfg.file.WriteTo(&buf); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	tmp, err := os.CreateTemp(r.GotDir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, r.configPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// updateConfig reads, edits and rewrites the config inside the write
// section so concurrent edits on one Repo do not overwrite each other.
func (r *Repo) updateConfig(op string, fn func(*Config) error) error {
	return r.withWriteLock(op, func() error {
		return r.editConfig(fn)
	})
}

func (r *Repo) editConfig(fn func(*Config) error) error {
	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return r.WriteConfig(cfg)
}

func remoteSection(name string) string { return fmt.Sprintf("remote %q", name) }
func branchSection(name string) string { return fmt.Sprintf("branch %q", name) }

// Get returns the value of key in section, or "".
func (c *Config) Get(section, key string) string {
	sec, err := c.file.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return ""
	}
	return strings.TrimSpace(sec.Key(key).String())
}

// Set stores a single-valued key.
func (c *Config) Set(section, key, value string) {
	sec := c.file.Section(section)
	sec.DeleteKey(key)
	_, _ = sec.NewKey(key, value)
}

// UserName returns user.name.
func (c *Config) UserName() string { return c.Get("user", "name") }

// UserEmail returns user.email.
func (c *Config) UserEmail() string { return c.Get("user", "email") }

// FastForward returns the merge.ff preference: "only" maps to
// FastForwardOnly, "false" to NoFastForward, anything else to the default.
func (c *Config) FastForward() FastForwardPreference {
	pref, _ := ParseFastForwardPreference(c.Get("merge", "ff"))
	return pref
}

// Remote returns the named remote.
func (c *Config) Remote(name string) (*RemoteConfig, bool) {
	sec, err := c.file.GetSection(remoteSection(name))
	if err != nil {
		return nil, false
	}
	rc := &RemoteConfig{Name: name, URL: strings.TrimSpace(sec.Key("url").String())}
	if sec.HasKey("fetch") {
		for _, v := range sec.Key("fetch").ValueWithShadows() {
			if v = strings.TrimSpace(v); v != "" {
				rc.Fetch = append(rc.Fetch, v)
			}
		}
	}
	return rc, true
}

// Remotes returns the configured remote names, sorted.
func (c *Config) Remotes() []string {
	var names []string
	for _, sec := range c.file.Sections() {
		rest, ok := strings.CutPrefix(sec.Name(), "remote ")
		if !ok {
			continue
		}
		names = append(names, strings.Trim(rest, `"`))
	}
	sort.Strings(names)
	return names
}

// SetRemote creates or replaces a [remote] section.
func (c *Config) SetRemote(rc RemoteConfig) error {
	name := remoteSection(rc.Name)
	c.file.DeleteSection(name)
	sec, err := c.file.NewSection(name)
	if err != nil {
		return err
	}
	if _, err := sec.NewKey("url", rc.URL); err != nil {
		return err
	}
	fetch := rc.Fetch
	if len(fetch) == 0 {
		fetch = []string{DefaultFetchRefspec(rc.Name)}
	}
	key, err := sec.NewKey("fetch", fetch[0])
	if err != nil {
		return err
	}
	for _, spec := range fetch[1:] {
		if err := key.AddShadow(spec); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRemote deletes a [remote] section and any upstream settings that
// referenced it.
func (c *Config) RemoveRemote(name string) bool {
	if _, ok := c.Remote(name); !ok {
		return false
	}
	c.file.DeleteSection(remoteSection(name))
	for _, sec := range c.file.Sections() {
		if strings.HasPrefix(sec.Name(), "branch ") && sec.Key("remote").String() == name {
			c.file.DeleteSection(sec.Name())
		}
	}
	return true
}

// Upstream returns the remote branch the local branch tracks.
func (c *Config) Upstream(local string) (RemoteBranch, bool) {
	remote := c.Get(branchSection(local), "remote")
	merge := c.Get(branchSection(local), "merge")
	if remote == "" || merge == "" {
		return RemoteBranch{}, false
	}
	return RemoteBranch{Remote: remote, Name: strings.TrimPrefix(merge, localRefPrefix)}, true
}

// SetUpstream records that local tracks upstream.
func (c *Config) SetUpstream(local string, upstream RemoteBranch) {
	sec := branchSection(local)
	c.Set(sec, "remote", upstream.Remote)
	c.Set(sec, "merge", localRefPrefix+upstream.Name)
}

// DefaultFetchRefspec is the refspec used for remotes without fetch lines.
func DefaultFetchRefspec(remote string) string {
	return "+refs/heads/*:refs/remotes/" + remote + "/*"
}

// SetRemote stores/updates a named remote URL in repository config. A new
// remote receives the default fetch refspec.
func (r *Repo) SetRemote(name, remoteURL string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("set remote: remote name is required")
	}
	if strings.ContainsAny(name, "/ \"") {
		return fmt.Errorf("set remote: invalid remote name %q", name)
	}
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return fmt.Errorf("set remote: remote URL is required")
	}

	return r.updateConfig("set remote", func(cfg *Config) error {
		rc := RemoteConfig{Name: name, URL: remoteURL}
		if existing, ok := cfg.Remote(name); ok {
			rc.Fetch = existing.Fetch
		}
		return cfg.SetRemote(rc)
	})
}

// RemoteURL returns the configured URL for the given remote name.
func (r *Repo) RemoteURL(name string) (string, error) {
	rc, err := r.Remote(name)
	if err != nil {
		return "", err
	}
	return rc.URL, nil
}

// Remote returns the configuration of a named remote.
func (r *Repo) Remote(name string) (*RemoteConfig, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("remote name is required")
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		return nil, err
	}
	rc, ok := cfg.Remote(name)
	if !ok || rc.URL == "" {
		return nil, fmt.Errorf("remote %q is not configured: %w", name, ErrNotFound)
	}
	return rc, nil
}

// RemoveRemote deletes a remote, the upstream settings that referenced it
// and its remote-tracking refs.
func (r *Repo) RemoveRemote(name string) error {
	name = strings.TrimSpace(name)
	err := r.withWriteLock("remove remote", func() error {
		err := r.editConfig(func(cfg *Config) error {
			if !cfg.RemoveRemote(name) {
				return fmt.Errorf("remote %q is not configured: %w", name, ErrNotFound)
			}
			return nil
		})
		if err != nil {
			return err
		}
		branches, err := r.ListRemoteBranches(name)
		if err != nil {
			return err
		}
		for _, b := range branches {
			if err := r.DeleteRef(b.RefName(), ""); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove remote: %w", err)
	}
	return nil
}

// SetUpstream makes local track upstream; pull on local then merges
// upstream.
func (r *Repo) SetUpstream(local LocalBranch, upstream RemoteBranch) error {
	if err := validateBranchName(local.Name); err != nil {
		return fmt.Errorf("set upstream: %w", err)
	}
	if _, err := r.Remote(upstream.Remote); err != nil {
		return fmt.Errorf("set upstream: %w", err)
	}
	return r.updateConfig("set upstream", func(cfg *Config) error {
		cfg.SetUpstream(local.Name, upstream)
		return nil
	})
}

// Upstream returns the remote branch local tracks, if any.
func (r *Repo) Upstream(local LocalBranch) (RemoteBranch, bool, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return RemoteBranch{}, false, err
	}
	up, ok := cfg.Upstream(local.Name)
	return up, ok, nil
}
