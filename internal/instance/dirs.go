package instance

// DirGrants are the host filesystem paths preopened into a sandbox
// (spec §4.C step 3). Each is mapped to a fixed guest path.
type DirGrants struct {
	PluginDir string // -> /plugin/ (read-only)
	PresetDir string // -> /presets/ (read+write)
	CacheDir  string // -> /cache/ (read+write)
	VarDir    string // -> /var/ (read+write)

	// MustLinkDirs requires every non-empty directory above to exist
	// and mount successfully; when false, a missing directory is
	// skipped rather than failing setup.
	MustLinkDirs bool
}

type dirGrant struct {
	host     string
	guest    string
	readOnly bool
}

func (d DirGrants) grants() []dirGrant {
	return []dirGrant{
		{d.PluginDir, "/plugin/", true},
		{d.PresetDir, "/presets/", false},
		{d.CacheDir, "/cache/", false},
		{d.VarDir, "/var/", false},
	}
}
