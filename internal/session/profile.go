// Package session owns the IRC connection: its profile, the live wire and
// the supervisor that keeps it connected.
package session

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Profile describes how to reach and register with the network.
type Profile struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port"`
	TLS      bool     `yaml:"tls"`
	Nick     string   `yaml:"nick"`
	User     string   `yaml:"user"`
	RealName string   `yaml:"realname"`
	Password string   `yaml:"password"`
	Channels []string `yaml:"channels"`
}

// LoadProfile reads a YAML connection profile and applies defaults.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML connection profile and applies defaults.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if p.Server == "" {
		return nil, fmt.Errorf("profile: server is required")
	}
	if p.Nick == "" {
		return nil, fmt.Errorf("profile: nick is required")
	}
	if p.Port == 0 {
		p.Port = 6667
		if p.TLS {
			p.Port = 6697
		}
	}
	if p.Port < 0 || p.Port > 65535 {
		return nil, fmt.Errorf("profile: invalid port %d", p.Port)
	}
	if p.User == "" {
		p.User = p.Nick
	}
	if p.RealName == "" {
		p.RealName = p.Nick
	}
	return &p, nil
}

// Addr returns the host:port to dial.
func (p *Profile) Addr() string {
	return net.JoinHostPort(p.Server, strconv.Itoa(p.Port))
}
