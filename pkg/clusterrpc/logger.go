package clusterrpc

import (
	"reflect"

	"github.com/rs/zerolog"
)

// isZeroLogger reports whether logger is an unconfigured zero value,
// the same reflect.DeepEqual check pkg/domain uses to decide whether
// to fall back to log.WithComponent.
func isZeroLogger(logger zerolog.Logger) bool {
	return reflect.DeepEqual(logger, zerolog.Logger{})
}
