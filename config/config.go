// Package config holds the command line configuration of every mode and
// builds the logger and metrics sink from it.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
	"github.com/mattn/go-isatty"

	"nbcommit/commit"
)

const (
	ModeHub         = "hub"
	ModeCoordinator = "coordinator"
	ModeParticipant = "participant"
	ModeCluster     = "cluster"
	ModeInspect     = "inspect"
	ModeLoadtest    = "loadtest"
)

// Load test contention levels.
const (
	LoadLow   = "low"
	LoadHigh  = "high"
	LoadMixed = "mixed"
)

type Config struct {
	Mode string

	Addr    string // hub mode: listen address
	HubAddr string // coordinator and participant modes: hub to dial

	Timeout      time.Duration
	LingerFactor int

	LogDir    string // stable log directory; empty keeps logs in memory
	LogLevel  string
	LogFormat string // auto, text or json

	Participants int
	AbortRate    float64
	Keys         string
	Contend      int
	LockWait     time.Duration
	Crash        string
	Txn          string
	Seed         int64

	Txns     int    // loadtest: concurrent transactions
	LoadType string // loadtest: low, high or mixed contention
}

func Default() Config {
	return Config{
		Mode:         ModeCluster,
		Addr:         ":8082",
		HubAddr:      "localhost:8082",
		Timeout:      time.Second,
		LingerFactor: 3,
		LogLevel:     "info",
		LogFormat:    "auto",
		Participants: 3,
		Keys:         "HOT_KEY",
		Seed:         time.Now().UnixNano(),
		Txns:         50,
		LoadType:     LoadHigh,
	}
}

func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Mode, "mode", c.Mode, "Modes: hub | coordinator | participant | cluster | loadtest | inspect")
	fs.StringVar(&c.Addr, "addr", c.Addr, "Address the hub listens on")
	fs.StringVar(&c.HubAddr, "hub", c.HubAddr, "Hub to join")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Coordinator receive timeout; participants wait twice as long")
	fs.IntVar(&c.LingerFactor, "linger", c.LingerFactor, "Post-decision window, in multiples of -timeout")
	fs.StringVar(&c.LogDir, "logdir", c.LogDir, "Directory for stable logs (empty: in memory)")
	fs.StringVar(&c.LogLevel, "loglevel", c.LogLevel, "trace | debug | info | warn | error")
	fs.StringVar(&c.LogFormat, "logformat", c.LogFormat, "auto | text | json")
	fs.IntVar(&c.Participants, "n", c.Participants, "Participants in cluster mode")
	fs.Float64Var(&c.AbortRate, "abortrate", c.AbortRate, "Probability a participant's local work fails")
	fs.StringVar(&c.Keys, "keys", c.Keys, "Comma separated keys each participant locks")
	fs.IntVar(&c.Contend, "contend", c.Contend, "Cluster mode: participants whose keys are already held by another transaction")
	fs.DurationVar(&c.LockWait, "lockwait", c.LockWait, "How long local work waits for held keys")
	fs.StringVar(&c.Crash, "crash", c.Crash, "Crash injection, role:id:before|after:MESSAGE (id 0 = any)")
	fs.StringVar(&c.Txn, "txn", c.Txn, "Transaction id (default: random)")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Seed for the abort coin flip")
	fs.IntVar(&c.Txns, "txns", c.Txns, "For loadtest: concurrent transactions")
	fs.StringVar(&c.LoadType, "type", c.LoadType, "For loadtest: low | high | mixed")
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeHub, ModeCoordinator, ModeParticipant, ModeCluster, ModeInspect, ModeLoadtest:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.Mode == ModeLoadtest {
		switch c.LoadType {
		case LoadLow, LoadHigh, LoadMixed:
		default:
			errs = append(errs, fmt.Errorf("unknown load type %q", c.LoadType))
		}
		if c.Txns < 1 {
			errs = append(errs, errors.New("txns must be positive"))
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.LingerFactor < 1 {
		errs = append(errs, errors.New("linger must be at least 1"))
	}
	if c.Participants < 1 {
		errs = append(errs, errors.New("need at least one participant"))
	}
	if c.Contend < 0 || c.Contend > c.Participants {
		errs = append(errs, fmt.Errorf("contend must be between 0 and %d", c.Participants))
	}
	if c.AbortRate < 0 || c.AbortRate > 1 {
		errs = append(errs, errors.New("abortrate must be within [0, 1]"))
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if _, err := commit.ParseCrash(c.Crash); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Timing derives the protocol timeouts.
func (c Config) Timing() commit.Timing {
	t := commit.DefaultTiming(c.Timeout)
	t.Linger = time.Duration(c.LingerFactor) * c.Timeout
	return t
}

func (c Config) KeyList() []string {
	var keys []string
	for _, k := range strings.Split(c.Keys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Fault returns the configured crash injection, or nil.
func (c Config) Fault() commit.Fault {
	f, _ := commit.ParseCrash(c.Crash)
	return f
}

// NewLogger builds the root logger. In auto format it writes JSON unless
// out is a terminal.
func (c Config) NewLogger(out *os.File) hclog.Logger {
	json := c.LogFormat == "json"
	if c.LogFormat == "auto" {
		fd := out.Fd()
		json = !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	}
	return c.newLogger(out, json)
}

// newLogger colours text output when out is a terminal. JSON is never
// coloured.
func (c Config) newLogger(out io.Writer, json bool) hclog.Logger {
	color := hclog.AutoColor
	if json {
		color = hclog.ColorOff
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "nbcommit",
		Level:      hclog.LevelFromString(c.LogLevel),
		Output:     out,
		JSONFormat: json,
		Color:      color,
	})
}

// SetupMetrics installs a global in-memory sink; SIGUSR1 dumps it.
func SetupMetrics() (*metrics.Metrics, *metrics.InmemSink, error) {
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)
	cfg := metrics.DefaultConfig("nbcommit")
	cfg.EnableHostname = false
	m, err := metrics.NewGlobal(cfg, inm)
	if err != nil {
		return nil, nil, err
	}
	return m, inm, nil
}
