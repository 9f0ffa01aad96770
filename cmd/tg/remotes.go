package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// RemotesConfig holds all named remotes and tracks which one is active.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is a named server profile. Token caches the session from the last
// login against URL.
type Remote struct {
	URL     string `toml:"url"`
	Station string `toml:"station,omitempty"`
	Token   string `toml:"token,omitempty"`
	NATSURL string `toml:"nats_url,omitempty"`
}

func remoteConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "state", "tracegate")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	path, err := remoteConfigPath()
	if err != nil {
		return RemotesConfig{}, err
	}
	var cfg RemotesConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return RemotesConfig{Remotes: map[string]Remote{}}, nil
		}
		return RemotesConfig{}, err
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Cached active remote values, loaded once per process.
var (
	remoteOnce    sync.Once
	cachedRemotes RemotesConfig
)

func loadActiveRemoteOnce() {
	remoteOnce.Do(func() {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return
		}
		cachedRemotes = cfg
	})
}

func activeRemote() (Remote, bool) {
	loadActiveRemoteOnce()
	if cachedRemotes.Active == "" {
		return Remote{}, false
	}
	r, ok := cachedRemotes.Remotes[cachedRemotes.Active]
	return r, ok
}

func activeRemoteURL() string {
	r, _ := activeRemote()
	return r.URL
}

func activeRemoteStation() string {
	r, _ := activeRemote()
	return r.Station
}

func activeRemoteNATSURL() string {
	r, _ := activeRemote()
	return r.NATSURL
}

// tokenFor returns the cached session token of the remote serving url,
// preferring the active one.
func tokenFor(url string) string {
	if r, ok := activeRemote(); ok && sameURL(r.URL, url) {
		return r.Token
	}
	for _, r := range cachedRemotes.Remotes {
		if sameURL(r.URL, url) {
			return r.Token
		}
	}
	return ""
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// storeSessionToken records token on every remote pointing at url. With no
// such remote, a "default" remote is created and made active when none is.
func storeSessionToken(url, token string) error {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return err
	}
	found := false
	for name, r := range cfg.Remotes {
		if sameURL(r.URL, url) {
			r.Token = token
			cfg.Remotes[name] = r
			found = true
		}
	}
	if !found {
		if token == "" {
			return nil
		}
		cfg.Remotes["default"] = Remote{URL: url, Token: token}
		if cfg.Active == "" {
			cfg.Active = "default"
		}
	}
	return saveRemotesConfig(cfg)
}
