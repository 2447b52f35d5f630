// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig configures an optional remote syslog sink.
type SyslogConfig struct {
	Enabled bool
	Host    string
	Port    int
	// Protocol is "udp" or "tcp".
	Protocol string
	Tag      string
	// Facility is the standard syslog facility number (1 = user-level).
	Facility int
}

// DefaultSyslogConfig returns a disabled syslog configuration with
// routed's conventional defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "routed",
		Facility: 1,
	}
}

// NewSyslogWriter dials a remote syslog daemon and returns an io.Writer
// suitable for Config.Output. Missing fields are defaulted.
func NewSyslogWriter(cfg SyslogConfig) (*syslog.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "routed"
	}

	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
}
