// Package logging builds the daemon's single leveled logger. Every
// component in this repository accepts a *logrus.Entry built from here,
// generalizing the per-plugin `Log telegraf.Logger` field convention the
// teacher uses (statsd.go, filepath.go) to a daemon with no plugin
// registration system to inject a per-component logger through.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger at the given debug verbosity: 0 is info-and-above,
// any N > 0 enables debug-level logging, which is what transient,
// non-fatal ingress/sampling failures are logged at.
func New(debugLevel int) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if debugLevel > 0 {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
