package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestOptions_ZapLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{" error ", zapcore.ErrorLevel, false},
		{"", zapcore.InfoLevel, false},
		{"nonsense", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := Options{Level: tt.level}.ZapLevel()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger_AppliesOptions(t *testing.T) {
	l := NewLogger(Options{Level: "Warn", Format: "Console"})

	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	assert.Equal(t, Options{Level: "warn", Format: "console", OutputFile: "stdout"}, l.Options())
}

func TestNamedKeepsOptions(t *testing.T) {
	l := NewNop().Named("usecase").Named("reservation")
	assert.NotNil(t, l.Logger)
	assert.Equal(t, BootstrapOptions(), l.Options())
}
