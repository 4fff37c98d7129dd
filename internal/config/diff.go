package config

import (
	"strings"

	logx "agendabot/pkg/logx"
)

// SummarizeConfigChange returns the list of changed sections plus safe
// structured attrs for logging. Secrets such as the bot token are never
// included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.CommandPrefix != newCfg.Telegram.CommandPrefix ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.String("telegram.command_prefix", newCfg.Telegram.CommandPrefix),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Servers != newCfg.Servers {
		changed = append(changed, "servers")
		attrs = append(attrs,
			logx.String("servers.dir", newCfg.Servers.Dir),
			logx.Bool("servers.watch", newCfg.Servers.Watch),
		)
	}

	if oldCfg.Announcements != newCfg.Announcements {
		changed = append(changed, "announcements")
		attrs = append(attrs,
			logx.String("announcements.schedule", newCfg.Announcements.Schedule),
			logx.Int("announcements.rate_per_sec", newCfg.Announcements.RatePerSec),
			logx.String("announcements.send_timeout", newCfg.Announcements.SendTimeout),
		)
	}

	if oldCfg.Paging != newCfg.Paging {
		changed = append(changed, "paging")
		attrs = append(attrs,
			logx.Int("paging.max_length", newCfg.Paging.MaxLength),
			logx.Int("paging.max_fields", newCfg.Paging.MaxFields),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.String("storage.path", nS.Path),
		)
	}

	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
