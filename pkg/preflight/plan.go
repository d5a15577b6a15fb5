package preflight

// Plan records which pre-flight checks a SyncEngine should run before its
// first scan, and the outcome of the last run for status reporting.
type Plan struct {
	CheckRootAccessible bool
	CheckDebrisWritable bool

	RootAccessible bool
	DebrisWritable bool
}

// Run executes the checks plan enables against rootPath and debrisRoot,
// recording each outcome on the plan before returning the first failure.
// A check the plan disables leaves its recorded outcome unchanged (false on
// a fresh Plan) rather than marking it passed.
func (p *Plan) Run(rootPath, debrisRoot string) error {
	if p.CheckRootAccessible {
		if err := CheckSyncRootAccessible(rootPath); err != nil {
			p.RootAccessible = false
			return err
		}
		p.RootAccessible = true
	}

	if p.CheckDebrisWritable {
		if err := CheckDebrisRootWritable(debrisRoot); err != nil {
			p.DebrisWritable = false
			return err
		}
		p.DebrisWritable = true
	}

	return nil
}
