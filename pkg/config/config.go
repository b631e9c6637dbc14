// Package config holds the resolved configuration for a batsim run,
// merged from command-line flags, an optional on-disk YAML file, and
// BATSIM_* environment variables. cmd/batsim applies them in that order,
// each layer overriding the fields it sets, and then re-applies the EDC
// selection, wire format and --add-role flags on top.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// EDCMode selects how the External Decision Component is reached.
type EDCMode string

const (
	EDCModeLibrary EDCMode = "library"
	EDCModeSocket  EDCMode = "socket"
)

// WireFormat selects the EDC protocol's on-the-wire encoding.
type WireFormat string

const (
	WireFormatBinary WireFormat = "binary"
	WireFormatJSON   WireFormat = "json"
)

// Role is a machine role assignable via --add-role.
type Role string

const (
	RoleMaster      Role = "master"
	RoleStorage     Role = "storage"
	RoleComputeNode Role = "compute_node"
)

// Config is the fully resolved set of options driving one simulation run.
// The json tags serve --dump-execution-context, the yaml tags the optional
// config file.
type Config struct {
	PlatformFile  string   `yaml:"platform_file" json:"platform_file"`
	WorkloadFiles []string `yaml:"workload_files" json:"workload_files"`
	EventFiles    []string `yaml:"event_files" json:"event_files"`

	EDCMode       EDCMode    `yaml:"edc_mode" json:"edc_mode"`
	EDCLibrary    string     `yaml:"edc_library" json:"edc_library"`
	EDCSocket     string     `yaml:"edc_socket" json:"edc_socket"`
	EDCInitBuffer string     `yaml:"edc_init_buffer" json:"edc_init_buffer"`
	WireFormat    WireFormat `yaml:"wire_format" json:"wire_format"`

	ExportPrefix string `yaml:"export_prefix" json:"export_prefix"`

	Mmax         int  `yaml:"mmax" json:"mmax"`
	MmaxWorkload bool `yaml:"mmax_workload" json:"mmax_workload"`
	EnergyHost   bool `yaml:"energy_host" json:"energy_host"`

	Roles map[string]Role `yaml:"roles" json:"roles"`

	Debug     bool `yaml:"debug" json:"debug"`
	Verbosity int  `yaml:"verbosity" json:"verbosity"`
}

// NewDefault returns the run defaults: JSON wire format, export to
// "out/", no machine cap, energy readings off.
func NewDefault() *Config {
	return &Config{
		EDCMode:      EDCModeLibrary,
		WireFormat:   WireFormatJSON,
		ExportPrefix: "out/",
		Mmax:         0,
		Roles:        map[string]Role{},
	}
}

// LoadFile merges a YAML config file's contents on top of c, for fields the
// file actually sets (a zero value in the file never clobbers a flag).
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fromFile Config
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return err
	}
	c.merge(&fromFile)
	return nil
}

func (c *Config) merge(o *Config) {
	if o.PlatformFile != "" {
		c.PlatformFile = o.PlatformFile
	}
	if len(o.WorkloadFiles) > 0 {
		c.WorkloadFiles = append(c.WorkloadFiles, o.WorkloadFiles...)
	}
	if len(o.EventFiles) > 0 {
		c.EventFiles = append(c.EventFiles, o.EventFiles...)
	}
	if o.EDCMode != "" {
		c.EDCMode = o.EDCMode
	}
	if o.EDCLibrary != "" {
		c.EDCLibrary = o.EDCLibrary
	}
	if o.EDCSocket != "" {
		c.EDCSocket = o.EDCSocket
	}
	if o.EDCInitBuffer != "" {
		c.EDCInitBuffer = o.EDCInitBuffer
	}
	if o.WireFormat != "" {
		c.WireFormat = o.WireFormat
	}
	if o.ExportPrefix != "" {
		c.ExportPrefix = o.ExportPrefix
	}
	if o.Mmax != 0 {
		c.Mmax = o.Mmax
	}
	if o.MmaxWorkload {
		c.MmaxWorkload = true
	}
	if o.EnergyHost {
		c.EnergyHost = true
	}
	for host, role := range o.Roles {
		c.Roles[host] = role
	}
	if o.Debug {
		c.Debug = true
	}
	if o.Verbosity != 0 {
		c.Verbosity = o.Verbosity
	}
}

// LoadEnv overlays environment-variable overrides (BATSIM_* variables).
func (c *Config) LoadEnv() {
	if v := os.Getenv("BATSIM_EXPORT_PREFIX"); v != "" {
		c.ExportPrefix = v
	}
	if v := os.Getenv("BATSIM_EDC_SOCKET"); v != "" {
		c.EDCSocket = v
		c.EDCMode = EDCModeSocket
	}
	if v := os.Getenv("BATSIM_MMAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Mmax = n
		}
	}
	if v := os.Getenv("BATSIM_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
}

// Validate checks the minimum viable configuration for running a
// simulation, returning the matching Err* sentinel error on the first
// violation found.
func (c *Config) Validate() error {
	if c.PlatformFile == "" {
		return ErrMissingPlatform
	}
	switch c.EDCMode {
	case EDCModeLibrary:
		if c.EDCLibrary == "" {
			return ErrMissingEDC
		}
	case EDCModeSocket:
		if c.EDCSocket == "" {
			return ErrMissingEDC
		}
	default:
		return ErrInvalidEDCMode
	}
	if c.WireFormat != WireFormatBinary && c.WireFormat != WireFormatJSON {
		return ErrInvalidWireFormat
	}
	if c.Mmax < 0 {
		return ErrInvalidMmax
	}
	return nil
}
