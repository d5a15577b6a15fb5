package hook

// Plan configures which shell commands fire before and after a named
// phase; localsyncd runs it around the initial scan as the "scan" hook.
type Plan struct {
	Enabled bool

	PreHookCommands  []string
	PostHookCommands []string

	DryRun   bool
	FailFast bool
}
