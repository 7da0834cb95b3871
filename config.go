package main

import (
	"cmp"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/go-authgate/dashboard-cli/authclient"
	"github.com/go-authgate/dashboard-cli/tokenstore"
)

// Token store kinds accepted by -token-store.
const (
	storeFile    = "file"
	storeRedis   = "redis"
	storeKeyring = "keyring"
	storeMemory  = "memory"
)

const defaultServerURL = "http://localhost:8080"

// Config is the resolved configuration of one dashctl invocation.
type Config struct {
	ServerURL   string
	Profile     string
	TokenStore  string
	TokenFile   string
	RedisAddr   string
	RedisPrefix string
	Timeout     time.Duration
	Verbose     bool
}

// fileConfig mirrors config.toml.
type fileConfig struct {
	ServerURL   string `toml:"server_url"`
	Profile     string `toml:"profile"`
	TokenStore  string `toml:"token_store"`
	TokenFile   string `toml:"token_file"`
	RedisAddr   string `toml:"redis_addr"`
	RedisPrefix string `toml:"redis_prefix"`
	Timeout     string `toml:"timeout"`
}

// globalFlags holds the flags accepted before the command name.
type globalFlags struct {
	configPath  string
	serverURL   string
	profile     string
	tokenStore  string
	tokenFile   string
	redisAddr   string
	redisPrefix string
	timeout     string
	verbose     bool
}

func newGlobalFlagSet(output io.Writer) (*flag.FlagSet, *globalFlags) {
	gf := &globalFlags{}
	fs := flag.NewFlagSet("dashctl", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fmt.Fprintln(output, "\nGlobal flags:")
		fs.PrintDefaults()
	}

	fs.StringVar(&gf.configPath, "config", "",
		"Config file (default: ~/.config/dashctl/config.toml or DASHCTL_CONFIG env)")
	fs.StringVar(&gf.serverURL, "server-url", "",
		"API server URL (default: http://localhost:8080 or SERVER_URL env)")
	fs.StringVar(&gf.profile, "profile", "",
		"Session profile name (default: default or PROFILE env)")
	fs.StringVar(&gf.tokenStore, "token-store", "",
		"Token store: file, redis, keyring or memory (default: file or TOKEN_STORE env)")
	fs.StringVar(&gf.tokenFile, "token-file", "",
		"Token file for the file store (default: ~/.config/dashctl/tokens.json or TOKEN_FILE env)")
	fs.StringVar(&gf.redisAddr, "redis-addr", "",
		"Redis address for the redis store (default: localhost:6379 or REDIS_ADDR env)")
	fs.StringVar(&gf.redisPrefix, "redis-prefix", "",
		"Redis key prefix (default: dashctl:tokens or REDIS_PREFIX env)")
	fs.StringVar(&gf.timeout, "timeout", "",
		"Per-attempt request timeout (default: 30s or REQUEST_TIMEOUT env)")
	fs.BoolVar(&gf.verbose, "verbose", false, "Log client activity to stderr")
	return fs, gf
}

// loadConfig resolves every setting with priority: flag > env > config file > default.
func loadConfig(gf *globalFlags) (*Config, error) {
	explicit := gf.configPath != "" || os.Getenv("DASHCTL_CONFIG") != ""
	path := getConfig(gf.configPath, "DASHCTL_CONFIG", defaultPath("config.toml", ".dashctl.toml"))

	fc, err := readConfigFile(path, explicit)
	if err != nil {
		return nil, err
	}

	tokenStore := getConfig(gf.tokenStore, "TOKEN_STORE", cmp.Or(fc.TokenStore, storeFile))
	tokenFile := cmp.Or(fc.TokenFile, defaultPath("tokens.json", ".dashctl-tokens.json"))
	redisPrefix := cmp.Or(fc.RedisPrefix, tokenstore.DefaultRedisPrefix)

	cfg := &Config{
		ServerURL:   getConfig(gf.serverURL, "SERVER_URL", cmp.Or(fc.ServerURL, defaultServerURL)),
		Profile:     getConfig(gf.profile, "PROFILE", cmp.Or(fc.Profile, tokenstore.DefaultProfile)),
		TokenStore:  strings.ToLower(tokenStore),
		TokenFile:   getConfig(gf.tokenFile, "TOKEN_FILE", tokenFile),
		RedisAddr:   getConfig(gf.redisAddr, "REDIS_ADDR", cmp.Or(fc.RedisAddr, "localhost:6379")),
		RedisPrefix: getConfig(gf.redisPrefix, "REDIS_PREFIX", redisPrefix),
		Verbose:     gf.verbose,
	}

	timeout := getConfig(gf.timeout, "REQUEST_TIMEOUT", cmp.Or(fc.Timeout, authclient.DefaultTimeout.String()))
	cfg.Timeout, err = time.ParseDuration(timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout %q: %w", timeout, err)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got: %s", cfg.Timeout)
	}

	if err := validateServerURL(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid SERVER_URL: %w", err)
	}

	switch cfg.TokenStore {
	case storeFile, storeRedis, storeKeyring, storeMemory:
	default:
		return nil, fmt.Errorf("unknown token store %q (want file, redis, keyring or memory)", cfg.TokenStore)
	}

	return cfg, nil
}

// readConfigFile decodes a TOML config file. A missing file is only an error
// when the path was given explicitly.
func readConfigFile(path string, explicit bool) (fileConfig, error) {
	var fc fileConfig

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return fc, nil
		}
		return fc, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fc, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return fc, fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}

	return fc, nil
}

// defaultPath returns name inside the user's dashctl config directory, or
// fallback in the working directory when there is no such directory.
func defaultPath(name, fallback string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(dir, "dashctl", name)
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// warnPlaintext prints the plaintext transport warning for http:// servers.
func warnPlaintext(w io.Writer, serverURL string) {
	if !strings.HasPrefix(strings.ToLower(serverURL), "http://") {
		return
	}
	fmt.Fprintln(
		w,
		"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
	)
	fmt.Fprintln(
		w,
		"⚠️  This is only safe for local development. Use HTTPS in production.",
	)
	fmt.Fprintln(w)
}
