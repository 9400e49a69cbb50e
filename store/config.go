package store

const (
	defaultPath  = "data-protection-keys"
	defaultMount = "kv"
)

// Config holds configuration for the Repository.
type Config struct {
	// Path is the bucket path within the mount.
	// Default: "data-protection-keys"
	Path string

	// Mount is the key/value engine mount point.
	// Default: "kv"
	Mount string
}

// DefaultConfig returns the default bucket location.
func DefaultConfig() Config {
	return Config{
		Path:  defaultPath,
		Mount: defaultMount,
	}
}

// validate fills blank fields with defaults.
func (c *Config) validate() {
	if c.Path == "" {
		c.Path = defaultPath
	}
	if c.Mount == "" {
		c.Mount = defaultMount
	}
}
