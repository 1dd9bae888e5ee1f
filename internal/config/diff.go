package config

import (
	"reflect"
	"strings"

	logx "calnotify/pkg/logx"
)

// RestartSections lists the sections that only take effect at startup.
var RestartSections = []string{"calendar", "reminder", "announce", "storage", "ops"}

// SummarizeConfigChange names the sections that differ and returns log
// fields describing the new values. Secrets (tokens, api keys) are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) || ot.PollTimeout != nt.PollTimeout ||
		ot.SendTimeout != nt.SendTimeout || ot.RatePerSec != nt.RatePerSec {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	oc, nc := oldCfg.Calendar, newCfg.Calendar
	if oc.Driver != nc.Driver || oc.CalendarID != nc.CalendarID || oc.CredentialsFile != nc.CredentialsFile ||
		oc.APIKey != nc.APIKey || oc.Path != nc.Path || oc.Timeout != nc.Timeout {
		changed = append(changed, "calendar")
		attrs = append(attrs, logx.String("calendar.driver", nc.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Reminder, newCfg.Reminder) {
		changed = append(changed, "reminder")
		attrs = append(attrs, logx.Any("reminder.thresholds", newCfg.Reminder.Thresholds))
	}
	if !reflect.DeepEqual(oldCfg.Announce, newCfg.Announce) {
		changed = append(changed, "announce")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs, logx.Bool("ops.enabled", newCfg.Ops.Enabled), logx.Bool("ops.pprof", newCfg.Ops.Pprof))
	}
	return changed, attrs
}

// NeedsRestart returns the changed sections that a live reload cannot
// apply.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, c := range changed {
		for _, r := range RestartSections {
			if c == r {
				out = append(out, c)
			}
		}
	}
	return out
}
