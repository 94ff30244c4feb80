package router

import (
	"reflect"

	"github.com/rs/zerolog"
)

func isZeroLogger(logger zerolog.Logger) bool {
	return reflect.DeepEqual(logger, zerolog.Logger{})
}
