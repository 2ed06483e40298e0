package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidReuseMode indicates an unknown reuse mode
	ErrInvalidReuseMode = errors.New("invalid reuse mode")

	// ErrInvalidTiming indicates a non-positive or inconsistent daemon timing value
	ErrInvalidTiming = errors.New("invalid daemon timing")

	// ErrInvalidMaxFileSize indicates a negative file size limit
	ErrInvalidMaxFileSize = errors.New("invalid max file size")

	// ErrEmptyExtensions indicates no indexable extension is configured
	ErrEmptyExtensions = errors.New("empty extensions")

	// ErrInvalidLogLevel indicates an unknown log level
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrUnsupportedEmbeddingMode indicates an embedding mode this build cannot honor
	ErrUnsupportedEmbeddingMode = errors.New("unsupported embedding mode")
)

// ValidReuseModes lists the accepted reuse.mode values.
var ValidReuseModes = []string{"off", "strict", "auto"}

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error

	if err := validatePaths(&cfg.Paths); err != nil {
		errs = append(errs, err)
	}
	if err := validateIndex(&cfg.Index); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateReuseMode(cfg.Reuse.Mode); err != nil {
		errs = append(errs, err)
	}
	if err := validateDaemon(&cfg.Daemon); err != nil {
		errs = append(errs, err)
	}
	if err := validateLogging(&cfg.Logging); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

// ValidateReuseMode checks a reuse mode string.
func ValidateReuseMode(mode string) error {
	for _, m := range ValidReuseModes {
		if strings.ToLower(mode) == m {
			return nil
		}
	}
	return fmt.Errorf("%w: must be one of %s, got '%s'", ErrInvalidReuseMode, strings.Join(ValidReuseModes, ", "), mode)
}

func validatePaths(cfg *PathsConfig) error {
	var errs []error

	if len(cfg.Extensions) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one extension required", ErrEmptyExtensions))
	}
	if cfg.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("%w: cannot be negative, got %d", ErrInvalidMaxFileSize, cfg.MaxFileSize))
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func validateIndex(cfg *IndexConfig) error {
	if cfg.EmbeddingMode != "" && cfg.EmbeddingMode != "off" {
		return fmt.Errorf("%w: only 'off' is supported, got '%s'", ErrUnsupportedEmbeddingMode, cfg.EmbeddingMode)
	}
	return nil
}

func validateDaemon(cfg *DaemonConfig) error {
	var errs []error

	if cfg.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("%w: debounce must be positive, got %s", ErrInvalidTiming, cfg.Debounce))
	}
	if cfg.MinInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: min_interval cannot be negative, got %s", ErrInvalidTiming, cfg.MinInterval))
	}
	if cfg.MaxBatchDelay <= 0 {
		errs = append(errs, fmt.Errorf("%w: max_batch_delay must be positive, got %s", ErrInvalidTiming, cfg.MaxBatchDelay))
	}
	if cfg.Debounce > 0 && cfg.MaxBatchDelay > 0 && cfg.MaxBatchDelay < cfg.Debounce {
		errs = append(errs, fmt.Errorf("%w: max_batch_delay (%s) should not be shorter than debounce (%s)", ErrInvalidTiming, cfg.MaxBatchDelay, cfg.Debounce))
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: got '%s'", ErrInvalidLogLevel, cfg.Level)
	}
	return nil
}

// joinErrors combines multiple errors into a single error with clear formatting.
// The sentinels stay reachable through errors.Is.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	if len(errs) == 1 {
		return errs[0]
	}

	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}

	return &validationError{msg: fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - ")), errs: errs}
}

type validationError struct {
	msg  string
	errs []error
}

func (e *validationError) Error() string   { return e.msg }
func (e *validationError) Unwrap() []error { return e.errs }
