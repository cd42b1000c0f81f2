package reversemapper

import "github.com/himanishpuri/ReverseMapper/internal/session"

type Config struct {
	DBPath    string
	OutDir    string
	Settings  session.Settings
	Logger    Logger
	Storage   Storage
	NoHistory bool
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithOutDir sets where finalized archives and replays are written. An empty
// directory keeps them in memory only.
func WithOutDir(dir string) Option {
	return func(c *Config) {
		c.OutDir = dir
	}
}

// WithSettings sets the capture settings used when a session is started
// without its own.
func WithSettings(s session.Settings) Option {
	return func(c *Config) {
		c.Settings = s
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

// WithoutHistory disables the generation history entirely.
func WithoutHistory() Option {
	return func(c *Config) {
		c.NoHistory = true
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:   "reversemapper.sqlite3",
		OutDir:   "output",
		Settings: session.DefaultSettings(),
	}
}
