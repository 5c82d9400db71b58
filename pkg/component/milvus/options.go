package milvus

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Options contains Milvus client configuration.
type Options struct {
	// Address is the Milvus server address (host:port).
	Address string `json:"address" mapstructure:"address"`

	// Database is the database name to use.
	Database string `json:"database" mapstructure:"database"`

	// Username for authentication.
	Username string `json:"username" mapstructure:"username"`

	// Password for authentication.
	Password string `json:"-" mapstructure:"password"`

	// Timeout for connection and operations.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:  "localhost:19530",
		Database: "default",
		Timeout:  30 * time.Second,
	}
}

// AddFlags adds flags for Milvus options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, namePrefix string) {
	fs.StringVar(&o.Address, namePrefix+"address", o.Address, "Milvus server address (host:port)")
	fs.StringVar(&o.Database, namePrefix+"database", o.Database, "Milvus database name")
	fs.StringVar(&o.Username, namePrefix+"username", o.Username, "Milvus username for authentication")
	fs.StringVar(&o.Password, namePrefix+"password", o.Password, "Milvus password for authentication")
	fs.DurationVar(&o.Timeout, namePrefix+"timeout", o.Timeout, "Connection and operation timeout")
}

// Validate checks if the options are valid.
func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	if o.Address == "" {
		return fmt.Errorf("milvus address is required")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("milvus timeout must be positive")
	}
	return nil
}
