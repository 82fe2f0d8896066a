package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked; everything else needs one
// and is summarised by RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CaptureChanged means the next recording session uses new settings.
	CaptureChanged bool

	// GlossaryChanged means the transcript corrector must be rebuilt.
	GlossaryChanged bool

	// RenderChanged means the default audience or diagram style changed.
	RenderChanged bool

	// RestartRequired lists the top-level sections that changed but are
	// only read at startup.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CaptureChanged || d.GlossaryChanged ||
		d.RenderChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !captureEqual(old.Capture, new.Capture) {
		d.CaptureChanged = true
	}
	ot, nt := old.Transcript, new.Transcript
	if !slices.Equal(ot.Glossary, nt.Glossary) || ot.GlossaryModel != nt.GlossaryModel ||
		ot.PhoneticThreshold != nt.PhoneticThreshold || ot.FuzzyThreshold != nt.FuzzyThreshold {
		d.GlossaryChanged = true
	}
	if old.Model.Audience != new.Model.Audience || old.Model.Style != new.Model.Style {
		d.RenderChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Enhance.Enabled != new.Enhance.Enabled || old.Enhance.Binary != new.Enhance.Binary ||
		old.Enhance.NoiseReduction != new.Enhance.NoiseReduction ||
		deref(old.Enhance.Highpass, true) != deref(new.Enhance.Highpass, true) ||
		deref(old.Enhance.Normalize, true) != deref(new.Enhance.Normalize, true) {
		d.RestartRequired = append(d.RestartRequired, "enhance")
	}
	if old.Model.Language != new.Model.Language || old.Model.Temperature != new.Model.Temperature ||
		old.Model.MaxTokens != new.Model.MaxTokens {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	if old.Tools.Command != new.Tools.Command || !slices.Equal(old.Tools.Args, new.Tools.Args) ||
		!slices.Equal(old.Tools.Env, new.Tools.Env) {
		d.RestartRequired = append(d.RestartRequired, "tools")
	}

	return d
}

// captureEqual compares the effective capture settings.
func captureEqual(a, b CaptureConfig) bool {
	return a.Session() == b.Session()
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Audio, b.Audio) && entryEqual(a.VAD, b.VAD) &&
		entryEqual(a.STT, b.STT) && entryEqual(a.LLM, b.LLM) && a.Breaker == b.Breaker
}

// entryEqual ignores Options; changing only provider options goes unnoticed.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model &&
		slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}
