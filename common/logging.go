// Package common holds the handful of cross-cutting helpers shared by every
// component: the output-stream splitter and logger construction used by
// cmd/server to build the process-wide *logrus.Logger.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus's formatted output across the two standard
// streams: lines carrying "level=error" go to stderr, everything else to
// stdout. This keeps container log collectors that treat the streams
// differently (e.g. alerting only on stderr) working without a custom hook.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is a package-level instance for code that runs before cmd/server
// has built the process-wide logger (e.g. init functions and tests).
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
