// Package config loads the traffic generator's configuration: the
// line-oriented target file (servers, size distribution, DSCP/rate
// classes) plus the ambient CLI/env layer (logging, metrics, health,
// tracing) shared with the rest of the codebase.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Lingtaonju/trafficgen/internal/errs"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for ambient environment variables, e.g.
// TRAFFICGEN_LOG_LEVEL.
const EnvPrefix = "TRAFFICGEN"

// DSCPClass is one weighted DSCP value parsed from the target file.
type DSCPClass struct {
	Value  uint32
	Weight uint32
}

// RateClass is one weighted sending-rate class parsed from the target
// file. RateMbps == 0 means unshaped.
type RateClass struct {
	RateMbps uint32
	Weight   uint32
}

// Server is one dispatch target parsed from the target file.
type Server struct {
	IP   string
	Port uint16
}

// Targets is the domain data parsed from the line-oriented target file:
// servers, the flow size distribution path, and the weighted DSCP/rate
// classes.
type Targets struct {
	Servers      []Server
	SizeDistPath string
	DSCP         []DSCPClass
	Rate         []RateClass
}

// ParseTargets scans a line-oriented, whitespace-separated target file.
// Unknown keys are ignored; blank lines and lines starting with "#" are
// skipped.
func ParseTargets(path string) (*Targets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open target file: %w", err)
	}
	defer f.Close()

	t := &Targets{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		key := fields[0]
		args := fields[1:]

		switch key {
		case "server":
			if len(args) != 2 {
				return nil, fmt.Errorf("line %d: server requires <ip> <port>", lineNo)
			}
			port, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid server port %q: %w", lineNo, args[1], err)
			}
			t.Servers = append(t.Servers, Server{IP: args[0], Port: uint16(port)})

		case "req_size_dist":
			if len(args) != 1 {
				return nil, fmt.Errorf("line %d: req_size_dist requires <path>", lineNo)
			}
			t.SizeDistPath = args[0]

		case "dscp":
			if len(args) != 2 {
				return nil, fmt.Errorf("line %d: dscp requires <value> <weight>", lineNo)
			}
			value, err := strconv.ParseUint(args[0], 10, 8)
			if err != nil || value > 63 {
				return nil, fmt.Errorf("line %d: dscp value must be 0..63, got %q", lineNo, args[0])
			}
			weight, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid dscp weight %q: %w", lineNo, args[1], err)
			}
			t.DSCP = append(t.DSCP, DSCPClass{Value: uint32(value), Weight: uint32(weight)})

		case "rate":
			if len(args) != 2 {
				return nil, fmt.Errorf("line %d: rate requires <value>Mbps <weight>", lineNo)
			}
			rateStr, ok := strings.CutSuffix(args[0], "Mbps")
			if !ok {
				return nil, fmt.Errorf("line %d: rate value must be an integer immediately followed by Mbps, got %q", lineNo, args[0])
			}
			rate, err := strconv.ParseUint(rateStr, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid rate value %q: %w", lineNo, args[0], err)
			}
			weight, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid rate weight %q: %w", lineNo, args[1], err)
			}
			t.Rate = append(t.Rate, RateClass{RateMbps: uint32(rate), Weight: uint32(weight)})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read target file: %w", err)
	}

	if len(t.Servers) == 0 {
		return nil, fmt.Errorf("target file %s: at least one server is required", path)
	}
	if t.SizeDistPath == "" {
		return nil, fmt.Errorf("target file %s: req_size_dist is required", path)
	}
	if len(t.DSCP) == 0 {
		t.DSCP = []DSCPClass{{Value: 0, Weight: 100}}
	}
	if len(t.Rate) == 0 {
		t.Rate = []RateClass{{RateMbps: 0, Weight: 100}}
	}

	return t, nil
}

// Ambient holds the operational configuration layered in via pflag/viper:
// logging, metrics, health, and tracing. It mirrors the teacher's
// CommonConfig in spirit, renamed to the concerns this generator actually
// has.
type Ambient struct {
	LogLevel       string
	LogFormat      string
	MetricsPort    string
	HealthPort     string
	TracingEnabled bool
	JaegerEndpoint string
}

// Validate checks the ambient configuration's enumerated fields.
func (a *Ambient) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, a.LogLevel) {
		return fmt.Errorf("invalid log level: %s, must be one of: %v", a.LogLevel, validLogLevels)
	}
	validLogFormats := []string{"human", "json"}
	if !contains(validLogFormats, a.LogFormat) {
		return fmt.Errorf("invalid log format: %s, must be one of: %v", a.LogFormat, validLogFormats)
	}
	return nil
}

// Run is the fully resolved configuration for one generator run: the
// required CLI surface (-b/-c/-n/-t/-l/-s/-r/-v/-h) plus the ambient
// layer.
type Run struct {
	Ambient

	LoadMbps       float64
	TargetFilePath string
	Count          uint64
	DurationSec    float64
	FCTLogPath     string
	Seed           uint64
	PostProcessCmd string
	Verbose        bool
}

// Validate enforces the CLI surface's required and mutually-exclusive
// fields.
func (r *Run) Validate() error {
	if err := r.Ambient.Validate(); err != nil {
		return err
	}
	if r.LoadMbps <= 0 {
		return fmt.Errorf("-b (load_mbps) is required and must be positive")
	}
	if r.TargetFilePath == "" {
		return fmt.Errorf("-c (config) is required")
	}
	if r.Count == 0 && r.DurationSec <= 0 {
		return fmt.Errorf("exactly one of -n (count) or -t (seconds) is required")
	}
	if r.Count != 0 && r.DurationSec > 0 {
		return fmt.Errorf("-n and -t are mutually exclusive")
	}
	return nil
}

// LoadRun parses the CLI flags registered on fs, layers environment
// variables over them via viper, and returns the resolved, validated
// configuration.
func LoadRun(fs *pflag.FlagSet) (*Run, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setRunDefaults(v)
	if err := v.BindPFlags(fs); err != nil {
		return nil, errs.NewConfigError("bind flags", err)
	}

	seed := v.GetUint64("seed")
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	r := &Run{
		Ambient: Ambient{
			LogLevel:       v.GetString("log-level"),
			LogFormat:      v.GetString("log-format"),
			MetricsPort:    v.GetString("metrics-port"),
			HealthPort:     v.GetString("health-port"),
			TracingEnabled: v.GetBool("tracing-enabled"),
			JaegerEndpoint: v.GetString("jaeger-endpoint"),
		},
		LoadMbps:       v.GetFloat64("b"),
		TargetFilePath: v.GetString("c"),
		Count:          v.GetUint64("n"),
		DurationSec:    v.GetFloat64("t"),
		FCTLogPath:     v.GetString("l"),
		Seed:           seed,
		PostProcessCmd: v.GetString("r"),
		Verbose:        v.GetBool("v"),
	}

	if err := r.Validate(); err != nil {
		return nil, errs.NewConfigError("configuration validation failed", err)
	}
	return r, nil
}

// RegisterFlags declares the full CLI surface (the documented
// -b/-c/-n/-t/-l/-s/-r/-v/-h plus the ambient --log-level etc. flags) on
// fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Float64P("b", "b", 0, "target offered load in Mbps (required)")
	fs.StringP("c", "c", "", "path to target config file (required)")
	fs.Uint64P("n", "n", 0, "number of requests to send (mutually exclusive with -t)")
	fs.Float64P("t", "t", 0, "duration to run, in seconds (mutually exclusive with -n)")
	fs.StringP("l", "l", "flows.txt", "path to the flow completion time log")
	fs.Uint64P("s", "s", 0, "PRNG seed (default: current time)")
	fs.StringP("r", "r", "", "optional post-process command to run on the FCT log")
	fs.BoolP("v", "v", false, "verbose logging")

	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "human", "log format: human, json")
	fs.String("metrics-port", "9090", "Prometheus metrics listen port")
	fs.String("health-port", "", "health check listen port (disabled if empty)")
	fs.Bool("tracing-enabled", false, "enable OpenTelemetry tracing")
	fs.String("jaeger-endpoint", "http://localhost:14268/api/traces", "OTLP/Jaeger collector endpoint")
}

func setRunDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "human")
	v.SetDefault("metrics-port", "9090")
	v.SetDefault("health-port", "")
	v.SetDefault("tracing-enabled", false)
	v.SetDefault("jaeger-endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("l", "flows.txt")
}

func contains(slice []string, val string) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}
	return false
}
