package common

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevelMapping(t *testing.T) {
	cases := []struct {
		level LogLevel
		want  logrus.Level
	}{
		{LogLevelDebug, logrus.DebugLevel},
		{LogLevelInfo, logrus.InfoLevel},
		{LogLevelWarn, logrus.WarnLevel},
		{LogLevelError, logrus.ErrorLevel},
		{LogLevelFatal, logrus.FatalLevel},
		{LogLevel("bogus"), logrus.InfoLevel},
	}
	for _, tc := range cases {
		log := NewLogger(LoggerConfig{Level: tc.level})
		assert.Equal(t, tc.want, log.GetLevel(), "level %q", tc.level)
	}
}

func TestNewLoggerFormatSelection(t *testing.T) {
	jsonLogger := NewLogger(LoggerConfig{Format: "json"})
	_, isJSON := jsonLogger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)

	textLogger := NewLogger(LoggerConfig{Format: "text"})
	_, isText := textLogger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}

func TestNewLoggerOutputsThroughSplitter(t *testing.T) {
	log := NewLogger(DefaultLoggerConfig())
	_, ok := log.Out.(*OutputSplitter)
	assert.True(t, ok)
}

func TestNewLoggerReportCaller(t *testing.T) {
	log := NewLogger(LoggerConfig{AddCaller: true})
	assert.True(t, log.ReportCaller)

	log = NewLogger(LoggerConfig{AddCaller: false})
	assert.False(t, log.ReportCaller)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "<not set>", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "myve...y123", MaskSecret("myverylongsecretkey123"))
}
