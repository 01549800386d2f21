package config

import (
	"context"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a server Config by layering defaults, optional file, and
// env vars. Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if AUTOSCALE_CONFIG is set
//  3. env (prefix AUTOSCALE_)
//
// Legacy deployment variable names are read afterwards and only fill
// fields that the three layers left empty; they never override them.
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("AUTOSCALE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: AUTOSCALE_ADDR, AUTOSCALE_QUEUE_SIZE, ...
	// Map env keys like AUTOSCALE_QUEUE_SIZE -> queue_size (flat keys).
	envProvider := env.Provider("AUTOSCALE_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "autoscale_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	// Legacy deployment names used by the original edge functions. They
	// only fill fields the layered sources left empty.
	if cfg.FunctionSecret == "" {
		cfg.FunctionSecret = os.Getenv("FUNCTION_SECRET")
	}
	if cfg.ProcessorSecret == "" {
		cfg.ProcessorSecret = os.Getenv("FUNCTION_SECRET_PROCESSOR")
	}
	if cfg.DefaultHouseholdID == "" {
		cfg.DefaultHouseholdID = os.Getenv("DEFAULT_HOUSEHOLD_ID")
	}

	if cfg.Addr == "" {
		return nil, ErrEmptyAddr
	}
	return &cfg, nil
}

// LoadDevice builds a Device config the same way, with prefix
// AUTOSCALE_DEVICE_ and the firmware's legacy variable names as
// aliases.
func LoadDevice(ctx context.Context) (*Device, error) {
	base := NewDevice()

	k := koanf.New(".")

	if path := os.Getenv("AUTOSCALE_DEVICE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	envProvider := env.Provider("AUTOSCALE_DEVICE_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "autoscale_device_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	// SB_URL names the ingest function endpoint in the original
	// deployment; SUPABASE_URL is its older spelling.
	if v := os.Getenv("SB_URL"); v != "" && cfg.IngestURL == NewDevice().IngestURL {
		cfg.IngestURL = v
	} else if v := os.Getenv("SUPABASE_URL"); v != "" && cfg.IngestURL == NewDevice().IngestURL {
		cfg.IngestURL = v
	}
	if cfg.FunctionSecret == "" {
		cfg.FunctionSecret = os.Getenv("FUNCTION_SECRET")
	}

	if cfg.ScaleID == "" {
		return nil, ErrEmptyScaleID
	}
	return &cfg, nil
}
