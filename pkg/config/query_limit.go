package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
)

// DefaultQueryLimit is the page/result limit used when query_limit is unset or invalid
const DefaultQueryLimit = 1000000

// ParseQueryLimit interprets a raw query_limit value. Numbers and numeric
// strings are truncated toward zero and must be strictly positive. A nil value
// means unset and yields the default with a nil error; any other rejected value
// yields the default together with the reason.
func ParseQueryLimit(value interface{}) (int, error) {
	var f float64

	switch v := value.(type) {
	case nil:
		return DefaultQueryLimit, nil
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case jsonpkg.Number:
		parsed, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return DefaultQueryLimit, fmt.Errorf("query_limit %q is not numeric", string(v))
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return DefaultQueryLimit, fmt.Errorf("query_limit %q is not numeric", v)
		}
		f = parsed
	default:
		return DefaultQueryLimit, fmt.Errorf("query_limit of type %T is not numeric", value)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultQueryLimit, fmt.Errorf("query_limit %v is not finite", f)
	}
	f = math.Trunc(f)
	if f <= 0 {
		return DefaultQueryLimit, fmt.Errorf("query_limit %v is not positive", f)
	}
	if f >= float64(math.MaxInt) {
		return DefaultQueryLimit, fmt.Errorf("query_limit %v is too large", f)
	}
	return int(f), nil
}

// QueryLimit returns the validated query limit, logging a warning when the
// configured value had to be replaced by the default. It never fails.
func QueryLimit(value interface{}, log *zap.Logger) int {
	limit, err := ParseQueryLimit(value)
	if err != nil && log != nil {
		log.Warn("the entered query limit is invalid; using the default query limit",
			zap.Int("default_query_limit", DefaultQueryLimit),
			zap.Any("query_limit", value),
			zap.Error(err))
	}
	return limit
}

// ValidQueryLimit returns the validated query_limit of the config
func (c *Config) ValidQueryLimit(log *zap.Logger) int {
	return QueryLimit(c.QueryLimit, log)
}
