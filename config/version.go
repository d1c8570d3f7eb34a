package config

const VERSION = "0.1.0"

// Populated by the linker, see the magefile.
var (
	build_time  string
	commit_hash string
)

type Version struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Commit    string `yaml:"commit,omitempty"`
	BuildTime string `yaml:"build_time,omitempty"`
}

func GetVersion() *Version {
	return &Version{
		Name:      "psutils",
		Version:   VERSION,
		Commit:    commit_hash,
		BuildTime: build_time,
	}
}
