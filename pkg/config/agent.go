package config

import (
	"flag"
	"time"
)

type AgentConfig struct {
	Agent    Agent
	Library  Library
	Emulator Emulator
	History  History
}

type Agent struct {
	Debug bool
	// open the dashboard in the default browser on start
	OpenBrowser bool
	// file lock preventing a second agent instance
	LockFile   string
	Monitoring Monitoring
	Server     Server
	// max time a queued action waits for its turn
	QueueTimeoutMs int
	// queued-but-not-started actions capacity
	QueueSize int
}

func (a Agent) QueueTimeout() time.Duration {
	return time.Duration(a.QueueTimeoutMs) * time.Millisecond
}

// allows custom config path
var agentConfigPath string

func NewAgentConfig() (conf AgentConfig) {
	conf = AgentConfig{
		Agent: Agent{
			Server:         Server{Address: "127.0.0.1:8765"},
			QueueTimeoutMs: 10000,
			QueueSize:      16,
		},
		Library: Library{
			Supported: []string{"ppst", "srm", "sav"},
		},
		Emulator: Emulator{
			StateFlag:        "--state=",
			LaunchGraceMs:    2000,
			TerminateGraceMs: 5000,
		},
		History: History{DbPath: "savehub.db", Limit: 50},
	}
	if err := LoadConfig(&conf, agentConfigPath); err != nil {
		panic(err)
	}
	return
}

// ParseFlags updates config values from passed runtime flags.
// Don't forget to call flag.Parse().
func (c *AgentConfig) ParseFlags() {
	c.Agent.Server.WithFlags()
	flag.BoolVar(&c.Agent.Debug, "debug", c.Agent.Debug, "Enable debug logging")
	flag.BoolVar(&c.Agent.OpenBrowser, "open", c.Agent.OpenBrowser, "Open the dashboard in the browser")
	flag.IntVar(&c.Agent.Monitoring.Port, "monitoring.port", c.Agent.Monitoring.Port, "Monitoring server port")
	flag.StringVar(&c.Library.BasePath, "library", c.Library.BasePath, "Save-state library root directory")
	flag.StringVar(&c.Emulator.BinaryPath, "emulator", c.Emulator.BinaryPath, "Path to the emulator binary")
	flag.StringVar(&agentConfigPath, "conf", agentConfigPath, "Set custom configuration directory path")
	flag.Parse()
}
