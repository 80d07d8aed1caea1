package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every parameter override variable.
const EnvPrefix = "RECONCILER_"

// LoadParameters reads a TOML or YAML parameters file at path (chosen by
// extension), merges it over DefaultParameters and applies RECONCILER_*
// environment overrides. An empty path yields defaults plus overrides.
// The result is not validated; pass it to Validate or Holder.Reload.
func LoadParameters(path string) (RawParameters, error) {
	raw := DefaultParameters()

	if path != "" {
		err := decodeFile(path, &raw)
		if err != nil {
			return RawParameters{}, err
		}
	}

	err := applyParamOverrides(&raw)
	if err != nil {
		return RawParameters{}, err
	}

	return raw, nil
}

// FileLoader returns a loader bound to path, for Holder.Reload.
func FileLoader(path string) Loader {
	return func() (RawParameters, error) {
		return LoadParameters(path)
	}
}

func decodeFile(path string, raw *RawParameters) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, raw)
		if err != nil {
			return fmt.Errorf("decode toml %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return fmt.Errorf("decode toml %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
		return nil

	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(raw)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode yaml %s: %w", path, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported parameters file extension %q (want .toml, .yaml or .yml)", filepath.Ext(path))
	}
}

func applyParamOverrides(raw *RawParameters) error {
	var errs []error

	errs = append(errs,
		overrideInt(&raw.MaxActivePositions, "MAX_ACTIVE_POSITIONS"),
		overrideFloats(&raw.ProfitLevels, "PROFIT_LEVELS"),
		overrideFloats(&raw.ProfitPercentages, "PROFIT_PERCENTAGES"),
		overrideInt(&raw.StaleOrderThresholdSeconds, "STALE_ORDER_THRESHOLD_SECONDS"),
		overrideInt(&raw.MaxCancelRetries, "MAX_CANCEL_RETRIES"),
		overrideInt(&raw.MaxConcurrentCalls, "MAX_CONCURRENT_CALLS"),
		overrideInt(&raw.GatewayCallTimeoutMs, "GATEWAY_CALL_TIMEOUT_MS"),
		overrideInt(&raw.SweepDeadlineSeconds, "SWEEP_DEADLINE_SECONDS"),
		overrideInt(&raw.TombstoneRetentionSeconds, "TOMBSTONE_RETENTION_SECONDS"),
	)

	return errors.Join(errs...)
}

func overrideInt(dst *int, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func overrideFloats(dst *[]float64, key string) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		out = append(out, f)
	}
	*dst = out
	return nil
}
