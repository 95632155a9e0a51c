package utils

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// MaxLoggedValueLen caps client supplied text in a single log line, in bytes.
const MaxLoggedValueLen = 256

func AggregateErrs(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		var errStr []string
		for _, e := range errs {
			errStr = append(errStr, e.Error())
		}
		return errors.New(strings.Join(errStr, "\t"))
	}
}

func CheckDirExist(dirPath string) bool {
	fi, err := os.Stat(dirPath)
	return err == nil && fi.IsDir()
}

// EnvOr returns the value of the environment variable key, or def when it is unset or empty.
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// QuoteForLog quotes s so control characters cannot start a new log line.
// Values longer than MaxLoggedValueLen are cut and marked with "...".
func QuoteForLog(s string) string {
	if len(s) > MaxLoggedValueLen {
		return strconv.Quote(s[:MaxLoggedValueLen]) + "..."
	}
	return strconv.Quote(s)
}
