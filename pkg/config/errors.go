package config

import (
	"fmt"
	"strings"

	rigerrors "churnrig/pkg/errors"
)

func errMissing(key string) *rigerrors.HostError {
	return rigerrors.ConfigurationError("%s: must be specified", key).SetContext("key", key)
}

func errInvalid(key, value, expected string, cause error) *rigerrors.HostError {
	return rigerrors.ParseError(key, value, expected, cause)
}

func errRange(key string, value float64, constraint string) *rigerrors.HostError {
	return rigerrors.ConfigurationError("%s: value %g %s", key, value, constraint).SetContext("key", key)
}

func errSyntax(line int, text string) *rigerrors.HostError {
	return rigerrors.New(rigerrors.ErrParse,
		fmt.Sprintf("line %d: missing key in %q", line, strings.TrimSpace(text))).
		SetContext("line", line)
}
