// File: config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide configuration (spec §4.13, C13): loaded once at first use
// from an INI file found on a search path, then held as an immutable
// snapshot for the life of the process — only the log level stays
// runtime-mutable, grounded on the teacher's control/config.go
// listener-notified store, here narrowed from a generic key/value map to
// one field because spec §5 treats the rest of the configuration as
// read-mostly once the process starts serving or resolving streams.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// IPv6Mode selects how IPv6 is used alongside IPv4.
type IPv6Mode int

const (
	IPv6Disabled IPv6Mode = iota
	IPv6Allowed
	IPv6Forced
)

// Ports holds the [ports] section (spec §4.13).
type Ports struct {
	BasePort         int
	PortRange        int
	MulticastPort    int
	AllowRandomPorts bool
	IPv6             IPv6Mode
	MachineAddresses []string
	LinkAddresses    []string
	SiteAddresses    []string
	OrgAddresses     []string
	GlobalAddresses  []string
}

// Multicast holds the [multicast] section.
type Multicast struct {
	ResolveScope  string
	ListenAddress string
}

// Lab holds the [lab] section.
type Lab struct {
	KnownPeers []string
	SessionID  string
}

// Tuning holds the [tuning] section.
type Tuning struct {
	UseProtocolVersion        int
	ContinuousResolveInterval float64
	InletBufferReserveMs      float64
	InletBufferReserveSamples int
	OutletBufferReserveMs     float64
	OutletBufferReserveSamp   int
	MaxCachedQueries          int
	SmoothingHalftime         float64
	TimeProbeCount            int
	TimeProbeInterval         float64
	TimeProbeMaxRTT           float64
	TimeUpdateInterval        float64
	TimeUpdateMinProbes       int
	WatchdogCheckInterval     float64
	WatchdogTimeThreshold     float64
	MulticastMinRTT           float64
	MulticastMaxRTT           float64
	UnicastMinRTT             float64
	UnicastMaxRTT             float64
	ForceDefaultTimestamps    bool
}

// Log holds the [log] section. Level is the only field mutated after load.
type Log struct {
	mu    sync.RWMutex
	level string
	File  string
}

// Level returns the current log level.
func (l *Log) Level() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetLevel updates the runtime log level (e.g. from an operator command).
func (l *Log) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Config is the immutable process-wide configuration snapshot.
type Config struct {
	Ports     Ports
	Multicast Multicast
	Lab       Lab
	Tuning    Tuning
	Log       *Log
	Source    string // path the config was loaded from, "" for defaults
}

var (
	once     sync.Once
	instance *Config
)

// Get returns the process-wide configuration, loading it from the search
// path on first call.
func Get() *Config {
	once.Do(func() {
		instance = loadFromSearchPath()
	})
	return instance
}

// searchPath returns candidate config file paths in priority order, per
// spec §4.13: env var, cwd, user home, system dir.
func searchPath() []string {
	var paths []string
	if envPath := os.Getenv("LSLAPICFG"); envPath != "" {
		paths = append(paths, envPath)
	}
	paths = append(paths, "lsl_api.cfg")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "lsl_api.cfg"))
	}
	paths = append(paths, "/etc/lsl_api/lsl_api.cfg")
	return paths
}

func loadFromSearchPath() *Config {
	for _, path := range searchPath() {
		if f, err := ini.Load(path); err == nil {
			cfg := defaults()
			cfg.Source = path
			applyFile(cfg, f)
			return cfg
		}
	}
	return defaults()
}

// Load parses an explicit path, bypassing the search path. Exposed for
// tests and for bindings that want to pin a specific config file.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg := defaults()
	cfg.Source = path
	applyFile(cfg, f)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Ports: Ports{
			BasePort:         16572,
			PortRange:        32,
			MulticastPort:    16571,
			AllowRandomPorts: true,
			IPv6:             IPv6Allowed,
		},
		Multicast: Multicast{
			ResolveScope:  "site",
			ListenAddress: "",
		},
		Lab: Lab{},
		Tuning: Tuning{
			UseProtocolVersion:        110,
			ContinuousResolveInterval: 5,
			InletBufferReserveMs:      5000,
			OutletBufferReserveMs:     5000,
			MaxCachedQueries:          100,
			SmoothingHalftime:         90,
			TimeProbeCount:            8,
			TimeProbeInterval:         0.2,
			TimeProbeMaxRTT:           1.0,
			TimeUpdateInterval:        5,
			TimeUpdateMinProbes:       6,
			WatchdogCheckInterval:     15,
			WatchdogTimeThreshold:     5,
			MulticastMinRTT:           0.2,
			MulticastMaxRTT:           0.5,
			UnicastMinRTT:             0.2,
			UnicastMaxRTT:             2.0,
		},
		Log: &Log{level: "info"},
	}
}

func applyFile(cfg *Config, f *ini.File) {
	if s := f.Section("ports"); s != nil {
		getInt(s, "BasePort", &cfg.Ports.BasePort)
		getInt(s, "PortRange", &cfg.Ports.PortRange)
		getInt(s, "MulticastPort", &cfg.Ports.MulticastPort)
		getBool(s, "AllowRandomPorts", &cfg.Ports.AllowRandomPorts)
		if k := s.Key("IPv6"); k != nil && k.String() != "" {
			cfg.Ports.IPv6 = parseIPv6Mode(k.String())
		}
		getSet(s, "MachineAddresses", &cfg.Ports.MachineAddresses)
		getSet(s, "LinkAddresses", &cfg.Ports.LinkAddresses)
		getSet(s, "SiteAddresses", &cfg.Ports.SiteAddresses)
		getSet(s, "OrganizationAddresses", &cfg.Ports.OrgAddresses)
		getSet(s, "GlobalAddresses", &cfg.Ports.GlobalAddresses)
	}
	if s := f.Section("multicast"); s != nil {
		getString(s, "ResolveScope", &cfg.Multicast.ResolveScope)
		getString(s, "ListenAddress", &cfg.Multicast.ListenAddress)
	}
	if s := f.Section("lab"); s != nil {
		getSet(s, "KnownPeers", &cfg.Lab.KnownPeers)
		getString(s, "SessionID", &cfg.Lab.SessionID)
	}
	if s := f.Section("log"); s != nil {
		if k := s.Key("level"); k != nil && k.String() != "" {
			cfg.Log.SetLevel(k.String())
		}
		getString(s, "file", &cfg.Log.File)
	}
	if s := f.Section("tuning"); s != nil {
		getInt(s, "UseProtocolVersion", &cfg.Tuning.UseProtocolVersion)
		getFloat(s, "ContinuousResolveInterval", &cfg.Tuning.ContinuousResolveInterval)
		getFloat(s, "InletBufferReserveMs", &cfg.Tuning.InletBufferReserveMs)
		getInt(s, "InletBufferReserveSamples", &cfg.Tuning.InletBufferReserveSamples)
		getFloat(s, "OutletBufferReserveMs", &cfg.Tuning.OutletBufferReserveMs)
		getInt(s, "OutletBufferReserveSamples", &cfg.Tuning.OutletBufferReserveSamp)
		getInt(s, "MaxCachedQueries", &cfg.Tuning.MaxCachedQueries)
		getFloat(s, "SmoothingHalftime", &cfg.Tuning.SmoothingHalftime)
		getInt(s, "TimeProbeCount", &cfg.Tuning.TimeProbeCount)
		getFloat(s, "TimeProbeInterval", &cfg.Tuning.TimeProbeInterval)
		getFloat(s, "TimeProbeMaxRTT", &cfg.Tuning.TimeProbeMaxRTT)
		getFloat(s, "TimeUpdateInterval", &cfg.Tuning.TimeUpdateInterval)
		getInt(s, "TimeUpdateMinProbes", &cfg.Tuning.TimeUpdateMinProbes)
		getFloat(s, "WatchdogCheckInterval", &cfg.Tuning.WatchdogCheckInterval)
		getFloat(s, "WatchdogTimeThreshold", &cfg.Tuning.WatchdogTimeThreshold)
		getFloat(s, "MulticastMinRTT", &cfg.Tuning.MulticastMinRTT)
		getFloat(s, "MulticastMaxRTT", &cfg.Tuning.MulticastMaxRTT)
		getFloat(s, "UnicastMinRTT", &cfg.Tuning.UnicastMinRTT)
		getFloat(s, "UnicastMaxRTT", &cfg.Tuning.UnicastMaxRTT)
		getBool(s, "ForceDefaultTimestamps", &cfg.Tuning.ForceDefaultTimestamps)
	}
}

func parseIPv6Mode(v string) IPv6Mode {
	switch strings.ToLower(v) {
	case "forced", "force":
		return IPv6Forced
	case "allowed", "allow":
		return IPv6Allowed
	default:
		return IPv6Disabled
	}
}

func getInt(s *ini.Section, key string, dst *int) {
	if k := s.Key(key); k != nil && k.String() != "" {
		if v, err := k.Int(); err == nil {
			*dst = v
		}
	}
}

func getFloat(s *ini.Section, key string, dst *float64) {
	if k := s.Key(key); k != nil && k.String() != "" {
		if v, err := k.Float64(); err == nil {
			*dst = v
		}
	}
}

func getBool(s *ini.Section, key string, dst *bool) {
	if k := s.Key(key); k != nil && k.String() != "" {
		if v, err := k.Bool(); err == nil {
			*dst = v
		}
	}
}

func getString(s *ini.Section, key string, dst *string) {
	if k := s.Key(key); k != nil && k.String() != "" {
		*dst = k.String()
	}
}

// getSet parses a "{a, b, c}" set specifier into a trimmed string slice.
func getSet(s *ini.Section, key string, dst *[]string) {
	k := s.Key(key)
	if k == nil {
		return
	}
	v := strings.TrimSpace(k.String())
	if len(v) < 2 || v[0] != '{' || v[len(v)-1] != '}' {
		return
	}
	parts := strings.Split(v[1:len(v)-1], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	*dst = out
}
