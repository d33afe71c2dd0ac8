package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/transport"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the endpoint's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// databases backing persistent master stores
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel    = "debug"
	DefaultBindAddr    = "127.0.0.1:9999"
	DefaultServiceAddr = "127.0.0.1:8000"
	DefaultTCPTimeout  = 1000 * time.Millisecond
	DefaultTTL         = transport.DefaultTTL
	DefaultNoForward   = false
	DefaultStore       = false
)

// Config contains all the configuration properties of a Weft endpoint.
type Config struct {
	// DataDir is the top-level directory containing Weft configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogDir, when set, sends info and debug output to per-level files
	// under this directory in addition to the standard output.
	LogDir string `mapstructure:"log-dir"`

	// BindAddr is the local address:port where this endpoint listens for
	// peers. In some cases, there may be a routable address that cannot be
	// bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// endpoints.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. Unless
	// "no-service" is set, the API handlers are registered with the
	// DefaultServerMux of the http package. It is possible that
	// another server in the same process is simultaneously using the
	// DefaultServerMux. In which case, the handlers will be accessible from
	// both servers. This is usefull when Weft is used in-memory and expected
	// to use the same endpoint (address:port) as the application's API.
	ServiceAddr string `mapstructure:"service-listen"`

	// TCPTimeout is the timeout of peer connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// TTL is the hop budget attached to locally published messages. Peers
	// decrement it at every hop and drop messages when it reaches zero.
	TTL uint16 `mapstructure:"ttl"`

	// NoForward stops this endpoint from re-publishing inbound messages to
	// its other peers, turning it into a leaf of the overlay.
	NoForward bool `mapstructure:"no-forward"`

	// Store activates persistent storage for master stores attached to this
	// endpoint. Without it, master stores use in-memory backends.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// RecordingDir, when set, makes the endpoint record every message its
	// transport emits (locally published and forwarded) under this
	// directory for later inspection.
	RecordingDir string `mapstructure:"recording-dir"`

	// RecordCap bounds the number of recorded messages; zero means unlimited.
	RecordCap uint64 `mapstructure:"record-cap"`

	// Join lists addresses of peers to connect to at startup.
	Join []string `mapstructure:"join"`

	// Moniker defines the friendly name of this endpoint
	Moniker string `mapstructure:"moniker"`

	// Key is the private key from which the endpoint derives its overlay
	// identity.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:     DefaultDataDir(),
		LogLevel:    DefaultLogLevel,
		BindAddr:    DefaultBindAddr,
		ServiceAddr: DefaultServiceAddr,
		TCPTimeout:  DefaultTCPTimeout,
		TTL:         DefaultTTL,
		NoForward:   DefaultNoForward,
		Store:       DefaultStore,
		DatabaseDir: DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	config.logger.Level = level
	return config
}

// SetDataDir sets the top-level Weft directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// TransportOptions translates the configuration into options for the
// distribution engine.
func (c *Config) TransportOptions() *transport.Options {
	return &transport.Options{
		TTL:          c.TTL,
		Forward:      !c.NoForward,
		RecordingDir: c.RecordingDir,
		RecordCap:    c.RecordCap,
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "weft".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogDir != "" {
			c.addFileHook()
		}
	}
	return c.logger.WithField("prefix", "weft")
}

// addFileHook mirrors info and debug output to files in LogDir.
func (c *Config) addFileHook() {
	if err := os.MkdirAll(c.LogDir, 0700); err != nil {
		c.logger.WithError(err).Error("Failed to create log directory")
		return
	}

	pathMap := lfshook.PathMap{
		logrus.InfoLevel:  filepath.Join(c.LogDir, "weft_info.log"),
		logrus.DebugLevel: filepath.Join(c.LogDir, "weft_debug.log"),
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level Weft config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Weft")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Weft")
		} else {
			return filepath.Join(home, ".weft")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
