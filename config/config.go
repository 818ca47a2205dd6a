package config

import (
	"os"
	"strconv"
	"sync"

	"emperror.dev/errors"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const DefaultLocation = "/etc/streamfs/config.yml"

var (
	mu      sync.RWMutex
	_config *Configuration
)

type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if streamfs should be running in debug mode. This value is
	// ignored if the debug flag is passed through the command line arguments.
	Debug bool `json:"debug" yaml:"debug"`

	// The directory every path is resolved beneath. When empty, paths are
	// handed to the operating system as they are.
	Root string `json:"root" yaml:"root"`

	// Resolve paths with openat2(2) instead of openat(2) followed by a check
	// of where the descriptor ended up. Needs Linux 5.6 or newer.
	UseOpenat2 bool `json:"use_openat2" yaml:"use_openat2"`

	// The largest chunk a read stream hands out, in bytes.
	ChunkSize int `default:"8192" json:"chunk_size" yaml:"chunk_size"`

	// The number of goroutines performing system calls.
	Workers int `default:"4" json:"workers" yaml:"workers"`

	// The permissions, in octal, files are created with when no mode is
	// given explicitly.
	WriteMode string `default:"0644" json:"write_mode" yaml:"write_mode"`

	// Directory log files are written to in addition to the terminal. Nothing
	// is written to disk when empty.
	LogDirectory string `json:"log_directory" yaml:"log_directory"`

	// The maximum number of bytes per second a copy transfers, 0 meaning no
	// limit.
	RateLimit int64 `json:"rate_limit" yaml:"rate_limit"`

	// A list of files, in .gitignore format, that may not be opened, removed
	// or renamed. They are still listed in directories.
	Denylist []string `json:"denylist" yaml:"denylist"`
}

// NewAtPath creates a new struct and set the path where it should be stored.
// This function does not modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	// Configures the default values for many of the configuration options present
	// in the structs. Values set in the configuration file will be overridden.
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	c.path = path
	return &c, nil
}

// Set the global configuration instance. This is a blocking operation such that
// anything trying to set a different configuration value, or read the
// configuration will be paused until it is complete.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// Get returns a copy of the global configuration instance, or the defaults
// if none was set yet. Changing the copy has no effect on the configuration
// that is in use, use Update for that.
func Get() *Configuration {
	mu.RLock()
	defer mu.RUnlock()
	if _config == nil {
		c, _ := NewAtPath("")
		return c
	}
	c := *_config
	return &c
}

// Update performs an in-situ update of the global configuration object using
// a thread-safe mutex lock.
func Update(callback func(c *Configuration)) {
	mu.Lock()
	defer mu.Unlock()
	if _config == nil {
		_config, _ = NewAtPath("")
	}
	callback(_config)
}

// FromFile reads the configuration from the provided file and stores it in
// the global singleton for this instance. Environment variables within the
// file are replaced with their values from the host system.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), c); err != nil {
		return errors.WrapIf(err, "config: failed to parse configuration file")
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	Set(c)
	return nil
}

// Path returns the file this configuration was read from.
func (c *Configuration) Path() string {
	return c.path
}

// Mode parses WriteMode.
func (c *Configuration) Mode() (uint32, error) {
	m, err := strconv.ParseUint(c.WriteMode, 8, 32)
	if err != nil {
		return 0, errors.WrapIfWithDetails(err, "config: invalid write_mode", "write_mode", c.WriteMode)
	}
	return uint32(m), nil
}
