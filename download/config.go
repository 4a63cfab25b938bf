package download

import (
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config for Download.
type Config struct {
	// Directory that the output file is written into.
	DataDir string `yaml:"data_dir"`
	// Bolt database that keeps the state of downloads between runs.
	Database string `yaml:"database"`
	// Save the completed pieces to Database and restore them on the next run.
	ResumeEnabled bool `yaml:"resume_enabled"`
	// Check digests of an existing output file when there is no saved state for it.
	VerifyOnStart bool `yaml:"verify_on_start"`
	// A piece that is given to a peer and not finished in this duration is given to another peer.
	// Zero disables the check.
	StallTimeout time.Duration `yaml:"stall_timeout"`
	// How often assigned pieces are checked against StallTimeout.
	StallCheckInterval time.Duration `yaml:"stall_check_interval"`
	// Seed of the random generator that shuffles the piece order. Zero means a time based seed.
	Seed int64 `yaml:"seed"`
	// Serve download statistics over JSON-RPC.
	RPCEnabled bool   `yaml:"rpc_enabled"`
	RPCHost    string `yaml:"rpc_host"`
	RPCPort    int    `yaml:"rpc_port"`
}

// DefaultConfig for Download.
var DefaultConfig = Config{
	DataDir:            "~/piecemeal/data",
	Database:           "~/piecemeal/resume.db",
	ResumeEnabled:      true,
	VerifyOnStart:      true,
	StallTimeout:       time.Minute,
	StallCheckInterval: 10 * time.Second,
	RPCEnabled:         false,
	RPCHost:            "127.0.0.1",
	RPCPort:            7246,
}

// LoadConfig reads the YAML file at filename over DefaultConfig.
// If the file does not exist DefaultConfig is returned.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) expandPaths() error {
	var err error
	c.DataDir, err = homedir.Expand(c.DataDir)
	if err != nil {
		return err
	}
	c.Database, err = homedir.Expand(c.Database)
	return err
}
