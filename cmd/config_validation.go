package cmd

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// validateStartupConfig validates startup configuration from the shared config source.
// It returns an error when any configured value is malformed or violates constraints.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter validates startup configuration via a key-value getter.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	validationErrs := make([]string, 0)

	validateDBConfig(get, &validationErrs)
	validateBlobConfig(get, &validationErrs)
	validateArchiveConfig(get, &validationErrs)
	validateTelegramConfig(get, &validationErrs)

	if len(validationErrs) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(validationErrs, "\n - "))
}

func validateDBConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.archive.db.addr", errs)
	validateOptionalStringNonEmpty(get, "settings.archive.db.db", errs)
}

func validateBlobConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.archive.blob.endpoint", errs)

	// a configured endpoint needs a bucket to write into
	if get("settings.archive.blob.endpoint") != nil {
		if get("settings.archive.blob.bucket") == nil {
			appendValidationError(errs, "settings.archive.blob.bucket is required when the blob endpoint is set")
			return
		}
		validateOptionalStringNonEmpty(get, "settings.archive.blob.bucket", errs)
	}
}

func validateArchiveConfig(get configGetter, errs *[]string) {
	validateOptionalInt64Min(get, "settings.archive.inline_threshold_bytes", 1, errs)
	validateOptionalIntMin(get, "settings.archive.download_concurrency", 1, errs)
	validateOptionalDate(get, "settings.archive.default_lookback", errs)
}

func validateTelegramConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.archive.telegram.token", errs)

	if get("settings.archive.telegram.token") != nil {
		validateOptionalInt64Min(get, "settings.archive.telegram.admin_uid", 1, errs)
		if get("settings.archive.telegram.admin_uid") == nil {
			appendValidationError(errs, "settings.archive.telegram.admin_uid is required when the telegram token is set")
		}
	}
}

// validateOptionalIntMin validates an optionally configured integer key with a minimum constraint.
func validateOptionalIntMin(get configGetter, key string, min int, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictInt(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be an integer", key)
		return
	}

	if value < min {
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

// validateOptionalInt64Min validates an optionally configured int64 key with a minimum constraint.
func validateOptionalInt64Min(get configGetter, key string, min int64, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictInt64(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be an integer", key)
		return
	}

	if value < min {
		appendValidationError(errs, "%s must be >= %d", key, min)
	}
}

// validateOptionalStringNonEmpty validates an optionally configured non-empty string key.
func validateOptionalStringNonEmpty(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string", key)
		return
	}

	if strings.TrimSpace(value) == "" {
		appendValidationError(errs, "%s must not be empty", key)
	}
}

// validateOptionalDate validates an optionally configured YYYY-MM-DD date key.
func validateOptionalDate(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a date string", key)
		return
	}

	if _, err := time.Parse(time.DateOnly, strings.TrimSpace(value)); err != nil {
		appendValidationError(errs, "%s must be a YYYY-MM-DD date", key)
	}
}

// parseStrictInt parses a value as a strict integer.
func parseStrictInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.Trunc(v) != v {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, errors.New("empty integer string")
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, errors.Wrap(err, "atoi")
		}
		return parsed, nil
	default:
		return 0, errors.Errorf("unsupported int type %T", value)
	}
}

// parseStrictInt64 parses a value as a strict int64.
func parseStrictInt64(value any) (int64, error) {
	parsed, err := parseStrictInt(value)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int64(parsed), nil
}

// parseStrictString parses a value as a strict string.
func parseStrictString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Errorf("unsupported string type %T", value)
	}
}

// appendValidationError appends a formatted validation error to the collector.
func appendValidationError(errs *[]string, format string, args ...any) {
	if errs == nil {
		return
	}
	*errs = append(*errs, fmt.Sprintf(format, args...))
}
