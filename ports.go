package mcconn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PortDescriptor describes one listening port of a server and the attributes
// a connection to it must have.
type PortDescriptor struct {
	Host     string
	Port     int
	Family   Family
	TLS      bool
	Protocol Protocol
}

func (d PortDescriptor) key() string {
	return fmt.Sprintf("%s/%t/%s/%d", d.Protocol, d.TLS, d.Family, d.Port)
}

func (d PortDescriptor) String() string {
	return fmt.Sprintf("{%s port=%d family=%s tls=%t}", d.Protocol, d.Port, d.Family, d.TLS)
}

// portEntry is one element of the "ports" array written by memcached.
// ssl is either a boolean or the TLS settings object of the port.
type portEntry struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Family   string `json:"family" yaml:"family"`
	Protocol string `json:"protocol" yaml:"protocol"`
	SSL      any    `json:"ssl" yaml:"ssl"`
}

type portFile struct {
	Ports []portEntry `json:"ports" yaml:"ports"`
}

func (e portEntry) descriptor() (PortDescriptor, error) {
	if e.Port <= 0 || e.Port > 0xffff {
		return PortDescriptor{}, invalidArgument(fmt.Sprintf("port %d", e.Port), nil)
	}
	protocol, err := ParseProtocol(e.Protocol)
	if err != nil {
		return PortDescriptor{}, err
	}
	family, err := ParseFamily(e.Family)
	if err != nil {
		return PortDescriptor{}, err
	}
	return PortDescriptor{
		Host:     e.Host,
		Port:     e.Port,
		Family:   family,
		TLS:      sslEnabled(e.SSL),
		Protocol: protocol,
	}, nil
}

func sslEnabled(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case map[string]any:
		return len(v) > 0
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// ParsePortDescriptors decodes a port file. format is "json" or "yaml".
func ParsePortDescriptors(data []byte, format string) ([]PortDescriptor, error) {
	var file portFile
	var err error
	switch strings.ToLower(format) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &file)
	case "json", "":
		err = json.Unmarshal(data, &file)
	default:
		return nil, invalidArgument("port file format "+format, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("mcconn: decode port file: %w", err)
	}

	ports := make([]PortDescriptor, 0, len(file.Ports))
	for i, entry := range file.Ports {
		desc, err := entry.descriptor()
		if err != nil {
			return nil, fmt.Errorf("mcconn: port entry %d: %w", i, err)
		}
		ports = append(ports, desc)
	}
	return ports, nil
}

// LoadPortDescriptors reads a port file. Files ending in .yaml or .yml are
// decoded as YAML, anything else as JSON.
func LoadPortDescriptors(path string) ([]PortDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := "json"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		format = "yaml"
	}
	return ParsePortDescriptors(data, format)
}
