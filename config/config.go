// Package config loads ndrc configuration: built-in defaults, then an
// optional TOML file, then NDR_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/ndr"
)

// EnvPrefix prefixes every environment override, e.g. NDR_SERVER_WORKERS.
const EnvPrefix = "NDR"

type Config struct {
	Server Server `toml:"server" envconfig:"SERVER"`
	Client Client `toml:"client" envconfig:"CLIENT"`
	NATS   NATS   `toml:"nats" envconfig:"NATS"`
	Log    Log    `toml:"log" envconfig:"LOG"`
}

// Server configures the hosted endpoint.
type Server struct {
	Protseq  string `toml:"protseq" envconfig:"PROTSEQ"`
	Endpoint string `toml:"endpoint" envconfig:"ENDPOINT"`
	// Workers is the dispatch pool size; 0 means GOMAXPROCS.
	Workers  int `toml:"workers" envconfig:"WORKERS"`
	MaxCalls int `toml:"max_calls" envconfig:"MAX_CALLS"`
	// ScratchPages sizes the native memory holding frames, in 64KiB pages.
	ScratchPages uint32 `toml:"scratch_pages" envconfig:"SCRATCH_PAGES"`
}

// Client configures the endpoint that ndrc call talks to.
type Client struct {
	Protseq     string        `toml:"protseq" envconfig:"PROTSEQ"`
	Address     string        `toml:"address" envconfig:"ADDRESS"`
	Endpoint    string        `toml:"endpoint" envconfig:"ENDPOINT"`
	CallTimeout time.Duration `toml:"call_timeout" envconfig:"CALL_TIMEOUT"`
	// Syntax pins the transfer syntax: "ndr", "ndr64", or empty to
	// negotiate.
	Syntax string `toml:"syntax" envconfig:"SYNTAX"`
}

type NATS struct {
	URL  string `toml:"url" envconfig:"URL"`
	Name string `toml:"name" envconfig:"NAME"`
	// Embedded runs a NATS server inside ndrc serve, listening on URL.
	Embedded bool `toml:"embedded" envconfig:"EMBEDDED"`
}

type Log struct {
	Level       string `toml:"level" envconfig:"LEVEL"`
	Development bool   `toml:"development" envconfig:"DEVELOPMENT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: Server{
			Protseq:      string(engine.ProtocolLocal),
			Endpoint:     "calc",
			ScratchPages: engine.DefaultPages,
		},
		Client: Client{
			Protseq:     string(engine.ProtocolLocal),
			Endpoint:    "calc",
			CallTimeout: engine.DefaultCallTimeout,
		},
		NATS: NATS{
			URL:  "nats://127.0.0.1:4222",
			Name: "ndrc",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path, if not empty, over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
		}
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse "+path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, errors.InvalidInput(errors.PhaseConfig,
				fmt.Sprintf("%s: unknown keys %s", path, strings.Join(keys, ", ")))
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(strings.Split(field, ".")...).Detail(format, args...).Build()
	}

	if err := validateProtseq(c.Server.Protseq); err != nil {
		return invalid("server.protseq", "%v", err)
	}
	if strings.TrimSpace(c.Server.Endpoint) == "" {
		return invalid("server.endpoint", "required")
	}
	if c.Server.Workers < 0 {
		return invalid("server.workers", "must not be negative, got %d", c.Server.Workers)
	}
	if c.Server.MaxCalls < 0 {
		return invalid("server.max_calls", "must not be negative, got %d", c.Server.MaxCalls)
	}
	if c.Server.ScratchPages == 0 || c.Server.ScratchPages > 65536 {
		return invalid("server.scratch_pages", "must be in [1, 65536], got %d", c.Server.ScratchPages)
	}

	if err := validateProtseq(c.Client.Protseq); err != nil {
		return invalid("client.protseq", "%v", err)
	}
	if strings.TrimSpace(c.Client.Endpoint) == "" {
		return invalid("client.endpoint", "required")
	}
	if c.Client.CallTimeout <= 0 {
		return invalid("client.call_timeout", "must be positive")
	}
	if _, _, err := c.Client.TransferSyntax(); err != nil {
		return invalid("client.syntax", "%v", err)
	}

	if c.usesNATS() {
		u, err := url.Parse(c.NATS.URL)
		if err != nil || u.Host == "" {
			return invalid("nats.url", "invalid URL %q", c.NATS.URL)
		}
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%v", err)
	}
	return nil
}

func (c *Config) usesNATS() bool {
	return c.Server.Protseq == string(engine.ProtocolNATS) ||
		c.Client.Protseq == string(engine.ProtocolNATS) || c.NATS.Embedded
}

func validateProtseq(p string) error {
	switch engine.ProtocolSequence(p) {
	case engine.ProtocolLocal, engine.ProtocolNATS:
		return nil
	}
	return fmt.Errorf("unsupported protocol sequence %q", p)
}

// ServerBinding returns the server's string binding. NATS endpoints use
// the configured NATS URL as network address.
func (c *Config) ServerBinding() string {
	return binding(c.Server.Protseq, "", c.Server.Endpoint, c.NATS.URL)
}

// ClientBinding returns the string binding ndrc call dials.
func (c *Config) ClientBinding() string {
	return binding(c.Client.Protseq, c.Client.Address, c.Client.Endpoint, c.NATS.URL)
}

func binding(protseq, address, endpoint, natsURL string) string {
	if address == "" && protseq == string(engine.ProtocolNATS) {
		address = natsURL
	}
	return engine.StringBinding{
		Protseq:        engine.ProtocolSequence(protseq),
		NetworkAddress: address,
		Endpoint:       endpoint,
	}.String()
}

// TransferSyntax returns the pinned syntax; ok is false when the client
// negotiates.
func (c Client) TransferSyntax() (s ndr.Syntax, ok bool, err error) {
	switch strings.ToLower(c.Syntax) {
	case "":
		return 0, false, nil
	case "ndr", "ndr20":
		return ndr.SyntaxNDR, true, nil
	case "ndr64":
		return ndr.SyntaxNDR64, true, nil
	}
	return 0, false, fmt.Errorf("unknown transfer syntax %q", c.Syntax)
}

// Logger builds the zap logger described by the section.
func (l Log) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
