// Package logging wires up the structured logger the mimic host tool
// uses. cmd/mimic builds the root logger here and derives per-pass and
// per-task entries from it; the internal/ packages themselves do not log.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the root logger for the mimic host tool. verbose raises the
// level to Debug; otherwise only Info and above are emitted.
func New(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// Pass returns a child entry scoped to one compiler pass, carrying the
// "pass"/"file" fields; cmd/mimic's compile command uses it.
func Pass(log *logrus.Logger, pass, file string) *logrus.Entry {
	return log.WithFields(logrus.Fields{"pass": pass, "file": file})
}

// Task returns a child entry scoped to one kernel task, used by
// cmd/mimic's load command.
func Task(log *logrus.Logger, taskID int) *logrus.Entry {
	return log.WithField("task_id", taskID)
}
