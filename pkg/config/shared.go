package config

import (
	"flag"
	"time"
)

type Library struct {
	// the root folder of the save-state library
	BasePath string
	// a list of recognized save-state file extensions
	Supported []string
	// a list of ignored words in the files
	Ignored []string
	// an optional JSON file mapping game ids to ROM paths
	RomMapFile string
	// print some additional info
	Verbose bool
	// enable directory changes watch
	WatchMode bool
}

type Emulator struct {
	// path to the external emulator binary
	BinaryPath string
	// the command-line flag prefix for loading a save state,
	// e.g. PPSSPP takes --state=<path>
	StateFlag string
	// post-launch liveness check delay
	LaunchGraceMs int
	// graceful shutdown window before a forced kill
	TerminateGraceMs int
}

func (e Emulator) LaunchGrace() time.Duration {
	return time.Duration(e.LaunchGraceMs) * time.Millisecond
}

func (e Emulator) TerminateGrace() time.Duration {
	return time.Duration(e.TerminateGraceMs) * time.Millisecond
}

type History struct {
	Enabled bool
	DbPath  string
	// the max number of records returned by the recent endpoint
	Limit int
}

type Monitoring struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool
	ProfilingEnabled bool
}

func (m *Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

type Server struct {
	Address string
	Https   bool
	Tls     struct {
		Address   string
		HttpsKey  string
		HttpsCert string
	}
}

func (s *Server) WithFlags() {
	flag.StringVar(&s.Address, "address", s.Address, "HTTP server address (host:port)")
	flag.StringVar(&s.Tls.Address, "httpsAddress", s.Tls.Address, "HTTPS server address (host:port)")
	flag.StringVar(&s.Tls.HttpsKey, "httpsKey", s.Tls.HttpsKey, "HTTPS key")
	flag.StringVar(&s.Tls.HttpsCert, "httpsCert", s.Tls.HttpsCert, "HTTPS certificate")
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}
