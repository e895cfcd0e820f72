package logging

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

/*
Setup configures the process-wide logger. With a file path the logger
writes there instead of stderr, which keeps the terminal clean when the
mesh runs under a supervisor. The returned func closes the file, if any.
*/
func Setup(level, file string) (func(), error) {
	if level != "" {
		lvl, err := log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		log.SetLevel(lvl)
	}

	log.SetReportTimestamp(true)

	if file == "" {
		return func() {}, nil
	}

	fh, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", file, err)
	}
	log.SetOutput(fh)

	return func() { fh.Close() }, nil
}
