package config

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging sets the global logrus formatter, level and output
func ConfigureLogging(level string, out io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetLevel(lvl)
	if out != nil {
		log.SetOutput(out)
	}
	return nil
}
