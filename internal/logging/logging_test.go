package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for raw, want := range cases {
		assert.Equal(t, want, parseLevel(raw), "input %q", raw)
	}
}

func TestRequestDone_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RequestDone("req_1", time.Now(), nil)
		RequestDone("req_1", time.Now(), assert.AnError)
	})
}
