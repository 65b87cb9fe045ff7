package export

import (
	"fmt"
	"io"
	"log/syslog"

	"github.com/firefart/dmarcanalyzer/internal/config"
)

// DialSyslog connects to the configured syslog server.
func DialSyslog(conf config.SyslogConfig) (*syslog.Writer, error) {
	w, err := syslog.Dial(conf.Protocol, conf.Server, syslog.LOG_WARNING|syslog.LOG_DAEMON, conf.Tag)
	if err != nil {
		return nil, fmt.Errorf("could not connect to syslog server %s: %w", conf.Server, err)
	}
	return w, nil
}

// Forward sends every message as its own syslog entry.
func Forward(w io.Writer, messages [][]byte) error {
	for _, m := range messages {
		// hint: we can't check the number returned here because
		// it's just the len of the input, so pretty useless
		if _, err := w.Write(m); err != nil {
			return fmt.Errorf("could not send syslog entry: %w", err)
		}
	}
	return nil
}
