package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/talostrading/dispatch"
)

const envPrefix = "DISPATCHD"

func addServerFlags(fs *pflag.FlagSet) {
	def := dispatch.DefaultConfig()

	fs.String("config", "", "optional config file (yaml, toml or json)")

	fs.String("host", def.Host, "address to bind, empty for all interfaces")
	fs.Int("port", def.Port, "port to listen on")
	fs.Int("backlog", def.Backlog, "accept queue capacity")
	fs.String("mode", def.Mode.String(), "dispatch mode: multiplexed or blocking")
	fs.String("poller", def.Poller.String(), "multiplexer of the multiplexed mode: epoll or select")
	fs.Duration("poll-timeout", def.PollTimeout, "upper bound of a single poll")
	fs.Int("chunk-size", def.ChunkSize, "size of a single read")
	fs.Duration("delay", def.ProcessingDelay, "simulated processing time per request")
	fs.Int("response-size", def.ResponseSize, "response length in bytes")
	fs.String("response-fill", string(def.ResponseFill), "byte the response is made of")
	fs.Bool("no-delay", def.NoDelay, "set TCP_NODELAY on accepted connections")
	fs.Bool("reuse-port", def.ReusePort, "set SO_REUSEPORT on the listener")
	fs.Int("pin-cpu", def.PinCPU, "pin the dispatch loop to a cpu, negative to disable")

	fs.String("log-level", "info", "log level")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("pprof", "", "address to serve pprof and fgprof on, empty to disable")
	fs.Duration("stats-interval", 0, "log server stats at this interval, 0 to disable")
}

// newViper layers, from lowest to highest precedence: flag defaults, the
// config file, DISPATCHD_* environment variables and flags set on the command
// line.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return v, nil
}

func serverConfig(v *viper.Viper) (dispatch.Config, error) {
	cfg := dispatch.DefaultConfig()

	mode, err := dispatch.ParseMode(v.GetString("mode"))
	if err != nil {
		return cfg, err
	}
	poller, err := dispatch.ParsePollerKind(v.GetString("poller"))
	if err != nil {
		return cfg, err
	}

	fill := v.GetString("response-fill")
	if len(fill) != 1 {
		return cfg, fmt.Errorf("response fill must be a single byte, got %q", fill)
	}

	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.Backlog = v.GetInt("backlog")
	cfg.Mode = mode
	cfg.Poller = poller
	cfg.PollTimeout = v.GetDuration("poll-timeout")
	cfg.ChunkSize = v.GetInt("chunk-size")
	cfg.ProcessingDelay = v.GetDuration("delay")
	cfg.ResponseSize = v.GetInt("response-size")
	cfg.ResponseFill = fill[0]
	cfg.NoDelay = v.GetBool("no-delay")
	cfg.ReusePort = v.GetBool("reuse-port")
	cfg.PinCPU = v.GetInt("pin-cpu")

	return cfg, cfg.Validate()
}

func newLogger(v *viper.Viper) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch format := v.GetString("log-format"); format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return logger, nil
}
