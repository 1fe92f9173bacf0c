// Package config resolves daemon settings from flags, environment, a TOML
// file and built-in defaults, in that order of precedence.
package config

import (
	"net"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/domwatch/internal/dom"
	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/journal"
	"codeberg.org/mutker/domwatch/internal/notify"
	"codeberg.org/mutker/domwatch/internal/telemetry"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "DOMWATCH"
	DefaultConfigPath = "/etc/domwatch.conf"
	DefaultLogLevel   = LogLevelInfo

	LogFormatConsole = "console"
	LogFormatJSON    = "json"

	defaultInterval        = 10
	defaultInterfacePrefix = "Ethernet"

	maskedSecret = "********"
)

type Config struct {
	Interval                int               `mapstructure:"interval" toml:"interval"`
	Tolerance               float64           `mapstructure:"tolerance" toml:"tolerance"`
	RebasePollLimit         int               `mapstructure:"rebase_poll_limit" toml:"rebase_poll_limit"`
	CumulativeAverage       bool              `mapstructure:"cumulative_average" toml:"cumulative_average"`
	ZeroPowerUnset          bool              `mapstructure:"zero_power_unset" toml:"zero_power_unset"`
	InterfacePrefix         string            `mapstructure:"interface_prefix" toml:"interface_prefix"`
	MaxConnectivityFailures int               `mapstructure:"max_connectivity_failures" toml:"max_connectivity_failures"`
	LogLevel                LogLevel          `mapstructure:"log_level" toml:"log_level"`
	LogFormat               string            `mapstructure:"log_format" toml:"log_format"`
	Syslog                  bool              `mapstructure:"syslog" toml:"syslog"`
	SNMP                    bool              `mapstructure:"snmp" toml:"snmp"`
	EAPI                    telemetry.Config  `mapstructure:"eapi" toml:"eapi"`
	Trap                    notify.TrapConfig `mapstructure:"trap" toml:"trap"`
	Journal                 journal.Config    `mapstructure:"journal" toml:"journal"`
	Metrics                 MetricsConfig     `mapstructure:"metrics" toml:"metrics"`

	// ConfigFile is the file that was read, empty if none.
	ConfigFile string `mapstructure:"-" toml:"-"`

	v *viper.Viper
}

type MetricsConfig struct {
	// Listen is the host:port of the /metrics endpoint; empty disables it.
	Listen string `mapstructure:"listen" toml:"listen"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"poll-interval":             "interval",
	"tolerance":                 "tolerance",
	"rebase-poll-limit":         "rebase_poll_limit",
	"cumulative-average":        "cumulative_average",
	"interface-prefix":          "interface_prefix",
	"max-connectivity-failures": "max_connectivity_failures",
	"log-level":                 "log_level",
	"log-format":                "log_format",
	"snmp":                      "snmp",
	"eapi-protocol":             "eapi.protocol",
	"eapi-host":                 "eapi.host",
	"eapi-port":                 "eapi.port",
	"eapi-username":             "eapi.username",
	"eapi-password":             "eapi.password",
	"eapi-verify-tls":           "eapi.verify_tls",
	"eapi-timeout":              "eapi.timeout",
	"journal":                   "journal.enabled",
	"journal-db":                "journal.db_path",
	"metrics-listen":            "metrics.listen",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Interval:                defaultInterval,
		Tolerance:               dom.DefaultTolerance,
		RebasePollLimit:         dom.DefaultRebaseLimit,
		CumulativeAverage:       false,
		ZeroPowerUnset:          true,
		InterfacePrefix:         defaultInterfacePrefix,
		MaxConnectivityFailures: 1,
		LogLevel:                DefaultLogLevel,
		LogFormat:               LogFormatConsole,
		Syslog:                  true,
		SNMP:                    false,
		EAPI:                    telemetry.DefaultConfig(),
		Trap:                    notify.DefaultTrapConfig(),
		Journal:                 journal.DefaultConfig(),
	}
}

// RegisterFlags defines the daemon's flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("config", "", "Configuration file (default $"+DefaultEnvPrefix+"_CONFIG or "+DefaultConfigPath+")")
	fs.IntP("poll-interval", "p", d.Interval, "Number of seconds between polls")
	fs.Float64P("tolerance", "t", d.Tolerance, "Amount of change, in dB, tolerated before alerting")
	fs.IntP("rebase-poll-limit", "r", d.RebasePollLimit,
		"Number of consecutive polls with alerts before resetting the base, 0 to never reset")
	fs.BoolP("cumulative-average", "c", d.CumulativeAverage, "Use cumulative average as base")
	fs.BoolP("debug", "d", false, "Enable debug logging")
	fs.Bool("no-syslog", false, "Disable logging to syslog")
	fs.Bool("snmp", d.SNMP, "Send SNMP traps/informs")
	fs.String("log-level", string(d.LogLevel), "Log level (debug, info, warning, error)")
	fs.String("log-format", d.LogFormat, "Log output format (console or json)")
	fs.String("interface-prefix", d.InterfacePrefix, "Monitor interfaces whose name starts with this prefix")
	fs.Int("max-connectivity-failures", d.MaxConnectivityFailures,
		"Consecutive connectivity failures before exiting, 0 to never exit")

	fs.String("eapi-protocol", d.EAPI.Protocol, "eAPI protocol (http or https)")
	fs.String("eapi-host", d.EAPI.Host, "eAPI host")
	fs.Int("eapi-port", d.EAPI.Port, "eAPI port")
	fs.String("eapi-username", d.EAPI.Username, "eAPI username")
	fs.String("eapi-password", d.EAPI.Password, "eAPI password")
	fs.Bool("eapi-verify-tls", d.EAPI.VerifyTLS, "Verify the eAPI TLS certificate")
	fs.Int("eapi-timeout", d.EAPI.Timeout, "eAPI request timeout in seconds")

	fs.Bool("journal", d.Journal.Enabled, "Record notifications in the alert journal")
	fs.String("journal-db", d.Journal.DBPath, "Alert journal database path")
	fs.String("metrics-listen", d.Metrics.Listen, "Serve Prometheus metrics on this address")
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("interval", d.Interval)
	v.SetDefault("tolerance", d.Tolerance)
	v.SetDefault("rebase_poll_limit", d.RebasePollLimit)
	v.SetDefault("cumulative_average", d.CumulativeAverage)
	v.SetDefault("zero_power_unset", d.ZeroPowerUnset)
	v.SetDefault("interface_prefix", d.InterfacePrefix)
	v.SetDefault("max_connectivity_failures", d.MaxConnectivityFailures)
	v.SetDefault("log_level", string(d.LogLevel))
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("syslog", d.Syslog)
	v.SetDefault("snmp", d.SNMP)

	v.SetDefault("eapi.protocol", d.EAPI.Protocol)
	v.SetDefault("eapi.host", d.EAPI.Host)
	v.SetDefault("eapi.port", d.EAPI.Port)
	v.SetDefault("eapi.username", d.EAPI.Username)
	v.SetDefault("eapi.password", d.EAPI.Password)
	v.SetDefault("eapi.verify_tls", d.EAPI.VerifyTLS)
	v.SetDefault("eapi.timeout", d.EAPI.Timeout)

	v.SetDefault("trap.host", d.Trap.Host)
	v.SetDefault("trap.port", d.Trap.Port)
	v.SetDefault("trap.version", d.Trap.Version)
	v.SetDefault("trap.community", d.Trap.Community)
	v.SetDefault("trap.secname", d.Trap.SecName)
	v.SetDefault("trap.seclevel", d.Trap.SecLevel)
	v.SetDefault("trap.authprotocol", d.Trap.AuthProtocol)
	v.SetDefault("trap.authpassword", d.Trap.AuthPassword)
	v.SetDefault("trap.privprotocol", d.Trap.PrivProtocol)
	v.SetDefault("trap.privpassword", d.Trap.PrivPassword)
	v.SetDefault("trap.timeout", d.Trap.Timeout)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.db_path", d.Journal.DBPath)
	v.SetDefault("journal.batch_size", d.Journal.BatchSize)
	v.SetDefault("journal.batch_timeout", d.Journal.BatchTimeout)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// Load resolves the configuration. fs may be nil; when given, it must have
// been populated by RegisterFlags and parsed.
func Load(fs *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	path, explicit := configPath(fs, o)
	file, err := readConfigFile(v, path, explicit)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.LogLevel = LogLevel(strings.ToLower(string(cfg.LogLevel)))
	if cfg.LogLevel == "warn" {
		cfg.LogLevel = LogLevelWarning
	}
	cfg.ConfigFile = file
	cfg.v = v

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	errFactory := errors.New()

	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	// Flags that override a key without mirroring it.
	if noSyslog, err := fs.GetBool("no-syslog"); err == nil && noSyslog {
		v.Set("syslog", false)
	}
	if debug, err := fs.GetBool("debug"); err == nil && debug {
		v.Set("log_level", string(LogLevelDebug))
	}

	return nil
}

// configPath picks --config, then $<PREFIX>_CONFIG, then the default path.
func configPath(fs *pflag.FlagSet, o options) (string, bool) {
	if o.configPath != "" {
		return o.configPath, true
	}
	if fs != nil {
		if path, err := fs.GetString("config"); err == nil && path != "" {
			return path, true
		}
	}
	if path := os.Getenv(DefaultEnvPrefix + "_CONFIG"); path != "" {
		return path, true
	}
	return DefaultConfigPath, false
}

// readConfigFile merges the TOML file at path. A missing default file is
// not an error.
func readConfigFile(v *viper.Viper, path string, explicit bool) (string, error) {
	errFactory := errors.New()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", errFactory.Wrap(errors.ErrReadConfig, err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return "", errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return path, nil
}

// Validate checks every field and reports the first invalid one.
func (c *Config) Validate() error {
	errFactory := errors.New()
	invalid := func(field string, value interface{}, reason string) error {
		return errFactory.Wrap(errors.ErrInvalidConfig, &fieldError{field: field, value: value, reason: reason})
	}

	if c.Interval < 0 {
		return errFactory.Wrap(errors.ErrInvalidInterval,
			&fieldError{field: "interval", value: c.Interval, reason: "must not be negative"})
	}
	if c.Tolerance <= 0 {
		return invalid("tolerance", c.Tolerance, "must be positive")
	}
	if c.RebasePollLimit < 0 {
		return invalid("rebase_poll_limit", c.RebasePollLimit, "must not be negative")
	}
	if c.MaxConnectivityFailures < 0 {
		return invalid("max_connectivity_failures", c.MaxConnectivityFailures, "must not be negative")
	}
	if c.InterfacePrefix == "" {
		return invalid("interface_prefix", c.InterfacePrefix, "must not be empty")
	}
	if !c.LogLevel.IsValid() {
		return errFactory.Wrap(errors.ErrInvalidLogLevel,
			&fieldError{field: "log_level", value: c.LogLevel, reason: "must be debug, info, warning or error"})
	}
	if c.LogFormat != LogFormatConsole && c.LogFormat != LogFormatJSON {
		return invalid("log_format", c.LogFormat, "must be console or json")
	}
	if err := c.EAPI.Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if c.SNMP {
		if err := c.Trap.Validate(); err != nil {
			return err
		}
	}
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return invalid("metrics.listen", c.Metrics.Listen, "must be host:port")
		}
	}

	return nil
}

// Settings returns the drift detection parameters.
func (c *Config) Settings() dom.Settings {
	return dom.Settings{
		Tolerance:         c.Tolerance,
		RebaseLimit:       c.RebasePollLimit,
		CumulativeAverage: c.CumulativeAverage,
		ZeroIsUnset:       c.ZeroPowerUnset,
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Dump renders the resolved configuration as TOML with secrets masked.
func (c *Config) Dump() ([]byte, error) {
	if c.v == nil {
		return nil, errors.New().WithMessage(errors.ErrInternal, "configuration was not loaded")
	}

	masked := *c
	for _, secret := range []*string{
		&masked.EAPI.Password,
		&masked.Trap.Community,
		&masked.Trap.AuthPassword,
		&masked.Trap.PrivPassword,
	} {
		if *secret != "" {
			*secret = maskedSecret
		}
	}

	out, err := toml.Marshal(masked)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInternal, err)
	}
	return out, nil
}
