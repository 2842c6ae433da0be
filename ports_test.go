package mcconn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const portsJSON = `{
  "ports": [
    {"host": "127.0.0.1", "port": 11210, "family": "AF_INET", "protocol": "memcached", "ssl": false},
    {"host": "::1", "port": 11207, "family": "AF_INET6", "protocol": "memcached", "ssl": {"key": "/etc/key.pem", "cert": "/etc/cert.pem"}},
    {"port": 11218, "family": "AF_INET", "protocol": "greenstack", "ssl": "true"}
  ]
}`

const portsYAML = `
ports:
  - host: 127.0.0.1
    port: 11210
    family: AF_INET
    protocol: memcached
    ssl: false
  - host: "::1"
    port: 11207
    family: AF_INET6
    protocol: memcached
    ssl:
      key: /etc/key.pem
      cert: /etc/cert.pem
  - port: 11218
    family: AF_INET
    protocol: greenstack
    ssl: "true"
`

var expectedPorts = []PortDescriptor{
	{Host: "127.0.0.1", Port: 11210, Family: FamilyIPv4, Protocol: ProtocolMemcached},
	{Host: "::1", Port: 11207, Family: FamilyIPv6, TLS: true, Protocol: ProtocolMemcached},
	{Port: 11218, Family: FamilyIPv4, TLS: true, Protocol: ProtocolGreenstack},
}

func TestParsePortDescriptors(t *testing.T) {
	ports, err := ParsePortDescriptors([]byte(portsJSON), "json")
	require.NoError(t, err)
	assert.Equal(t, expectedPorts, ports)

	ports, err = ParsePortDescriptors([]byte(portsYAML), "yaml")
	require.NoError(t, err)
	assert.Equal(t, expectedPorts, ports)
}

func TestParsePortDescriptors_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
	}{
		{"bad json", `{"ports": [`, "json"},
		{"bad port", `{"ports": [{"port": 0}]}`, "json"},
		{"port out of range", `{"ports": [{"port": 70000}]}`, "json"},
		{"bad protocol", `{"ports": [{"port": 1, "protocol": "http"}]}`, "json"},
		{"bad family", `{"ports": [{"port": 1, "family": "AF_UNIX"}]}`, "json"},
		{"bad format", `{}`, "toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePortDescriptors([]byte(tt.data), tt.format)
			assert.Error(t, err)
		})
	}
}

func TestLoadPortDescriptors(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "portnumber.file")
	require.NoError(t, os.WriteFile(jsonPath, []byte(portsJSON), 0o600))
	ports, err := LoadPortDescriptors(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, expectedPorts, ports)

	yamlPath := filepath.Join(dir, "ports.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(portsYAML), 0o600))
	ports, err = LoadPortDescriptors(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, expectedPorts, ports)

	_, err = LoadPortDescriptors(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPortDescriptor_String(t *testing.T) {
	assert.Equal(t, "{Greenstack port=11218 family=AF_INET tls=true}", expectedPorts[2].String())
	assert.NotEqual(t, expectedPorts[0].key(), expectedPorts[1].key())
}
