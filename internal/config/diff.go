package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WakePhrasesChanged covers both assistant.wake_phrases and discord.bot_name.
	WakePhrasesChanged bool

	// ParamsChanged is true if max_tokens, temperature, top_p or web_results changed.
	ParamsChanged bool

	// HistoryBudgetChanged is true if max_history_tokens changed.
	HistoryBudgetChanged bool
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.WakePhrasesChanged || d.ParamsChanged || d.HistoryBudgetChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Assistant.WakePhrases, new.Assistant.WakePhrases) ||
		old.Discord.BotName != new.Discord.BotName {
		d.WakePhrasesChanged = true
	}

	oa, na := old.Assistant, new.Assistant
	if oa.MaxTokens != na.MaxTokens || oa.Temperature != na.Temperature ||
		oa.TopP != na.TopP || oa.WebResults != na.WebResults {
		d.ParamsChanged = true
	}

	if oa.MaxHistoryTokens != na.MaxHistoryTokens {
		d.HistoryBudgetChanged = true
	}

	return d
}
