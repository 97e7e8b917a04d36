package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputSplitterRoutesByLevel(t *testing.T) {
	splitter := &OutputSplitter{}

	cases := []string{
		`time="2026-01-15T10:30:00Z" level=error msg="db connection failed"`,
		`time="2026-01-15T10:30:00Z" level=info msg="started"`,
		`error mentioned in message but level=info`,
		``,
	}
	for _, msg := range cases {
		n, err := splitter.Write([]byte(msg))
		assert.NoError(t, err)
		assert.Equal(t, len(msg), n)
	}
}

func TestOutputSplitterConcurrentWrites(t *testing.T) {
	splitter := &OutputSplitter{}
	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := splitter.Write([]byte("concurrent log line"))
			assert.NoError(t, err)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestGlobalLoggerUsesOutputSplitter(t *testing.T) {
	assert.NotNil(t, Logger)
	_, ok := Logger.Out.(*OutputSplitter)
	assert.True(t, ok, "package Logger should route through OutputSplitter")
}
