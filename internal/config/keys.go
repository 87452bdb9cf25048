package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "backend.base_url", typ: kString, env: "INTELWATCH_BACKEND_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.api_token", typ: kString, env: "INTELWATCH_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Backend.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.APIToken },
	},
	{
		key: "backend.timeout", typ: kDuration, env: "INTELWATCH_BACKEND_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.Timeout },
	},
	{
		key: "channel.reconnect_delay", typ: kDuration, env: "INTELWATCH_RECONNECT_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Channel.ReconnectDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Channel.ReconnectDelay },
	},
	{
		key: "channel.max_reconnect_attempts", typ: kInt, env: "INTELWATCH_MAX_RECONNECT_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Channel.MaxReconnectAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Channel.MaxReconnectAttempts },
	},
	{
		key: "poller.interval", typ: kDuration, env: "INTELWATCH_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poller.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poller.Interval },
	},
	{
		key: "phase.collapse_delay", typ: kDuration, env: "INTELWATCH_COLLAPSE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Phase.CollapseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Phase.CollapseDelay },
	},
	{
		key: "phase.briefing_collapse_delay", typ: kDuration, env: "INTELWATCH_BRIEFING_COLLAPSE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Phase.BriefingCollapseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Phase.BriefingCollapseDelay },
	},
	{
		key: "log.level", typ: kString, env: "INTELWATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "INTELWATCH_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "metrics.addr", typ: kString, env: "INTELWATCH_METRICS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Metrics.Addr },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("reading %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
