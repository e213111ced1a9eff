package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	conf := AgentConfig{Agent: Agent{QueueTimeoutMs: 10000}}
	require.NoError(t, LoadConfig(&conf, t.TempDir()))
	require.Equal(t, 10000, conf.Agent.QueueTimeoutMs)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
agent:
  queuetimeoutms: 2500
  server:
    address: "0.0.0.0:9999"
library:
  basepath: "/saves"
emulator:
  binarypath: "/opt/ppsspp/PPSSPPSDL"
  launchgracems: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "savehub.yaml"), []byte(yaml), 0644))

	var conf AgentConfig
	require.NoError(t, LoadConfig(&conf, dir))
	require.Equal(t, 2500, conf.Agent.QueueTimeoutMs)
	require.Equal(t, "0.0.0.0:9999", conf.Agent.Server.Address)
	require.Equal(t, "/saves", conf.Library.BasePath)
	require.Equal(t, "/opt/ppsspp/PPSSPPSDL", conf.Emulator.BinaryPath)
	require.Equal(t, 500*time.Millisecond, conf.Emulator.LaunchGrace())
}

func TestDurationHelpers(t *testing.T) {
	e := Emulator{LaunchGraceMs: 2000, TerminateGraceMs: 5000}
	require.Equal(t, 2*time.Second, e.LaunchGrace())
	require.Equal(t, 5*time.Second, e.TerminateGrace())

	a := Agent{QueueTimeoutMs: 10000}
	require.Equal(t, 10*time.Second, a.QueueTimeout())
}

func TestServerGetAddr(t *testing.T) {
	s := Server{Address: "127.0.0.1:8765"}
	require.Equal(t, "127.0.0.1:8765", s.GetAddr())

	s.Https = true
	s.Tls.Address = "127.0.0.1:443"
	require.Equal(t, "127.0.0.1:443", s.GetAddr())
}
