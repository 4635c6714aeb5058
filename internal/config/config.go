// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/MnAnX/Infra/internal/transport"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the cluster file: settings shared by every service plus one
// entry per service
type Config struct {
	Common  ServiceConfig   `yaml:"common"`
	Cluster []ServiceConfig `yaml:"cluster"`
}

// ServiceConfig holds the settings of one service. In the common section
// every field is a default; in a cluster entry it overrides the default.
type ServiceConfig struct {
	Name         string        `yaml:"name,omitempty"`
	Active       *bool         `yaml:"active,omitempty"`
	Host         string        `yaml:"host,omitempty"`
	BindHost     string        `yaml:"bind_host,omitempty"`
	Query        QueryConfig   `yaml:"query,omitempty"`
	Control      ControlConfig `yaml:"control,omitempty"`
	Service      ScaleConfig   `yaml:"service,omitempty"`
	Queue        QueueConfig   `yaml:"queue,omitempty"`
	Heartbeat    time.Duration `yaml:"heartbeat,omitempty"`
	DataInterval time.Duration `yaml:"data_interval,omitempty"`
	Store        StoreConfig   `yaml:"store,omitempty"`
	Monitor      MonitorConfig `yaml:"monitor,omitempty"`
}

// QueryConfig contains the broker ports
type QueryConfig struct {
	Port PortConfig `yaml:"port,omitempty"`
}

// PortConfig holds the client-facing and worker-facing ports
type PortConfig struct {
	Client int `yaml:"client,omitempty"`
	Worker int `yaml:"worker,omitempty"`
}

// ControlConfig contains the control channel port
type ControlConfig struct {
	Port int `yaml:"port,omitempty"`
}

// ScaleConfig contains the worker pool size
type ScaleConfig struct {
	Scale int `yaml:"scale,omitempty"`
}

// QueueConfig contains the broker backpressure settings
type QueueConfig struct {
	MaxPending *int `yaml:"max_pending,omitempty"`
}

// StoreConfig selects the key store a handler reads from
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // memory, sqlite or redis
	Path   string `yaml:"path,omitempty"`   // sqlite file
	Addr   string `yaml:"addr,omitempty"`   // redis host:port
	Size   int    `yaml:"size,omitempty"`   // memory store capacity
}

// MonitorConfig points at the directory API a service registers with
type MonitorConfig struct {
	URL string `yaml:"url,omitempty"`
}

// IsActive reports whether the service may be started
func (s *ServiceConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// MaxPending returns the pending queue depth, or -1 when unset
func (s *ServiceConfig) MaxPending() int {
	if s.Queue.MaxPending == nil {
		return -1
	}
	return *s.Queue.MaxPending
}

func (s *ServiceConfig) bindHost() string {
	if s.BindHost != "" {
		return s.BindHost
	}
	return "*"
}

// FrontendBind is the endpoint the broker binds for clients
func (s *ServiceConfig) FrontendBind() string {
	return transport.URI(s.bindHost(), s.Query.Port.Client)
}

// BackendBind is the endpoint the broker binds for workers
func (s *ServiceConfig) BackendBind() string {
	return transport.URI(s.bindHost(), s.Query.Port.Worker)
}

// ControlBind is the endpoint the control server binds
func (s *ServiceConfig) ControlBind() string {
	return transport.URI(s.bindHost(), s.Control.Port)
}

// BackendConnect is the endpoint the service's own workers connect to
func (s *ServiceConfig) BackendConnect() string {
	host := s.BindHost
	if host == "" || host == "*" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return transport.URI(host, s.Query.Port.Worker)
}

// ClientURI is where clients reach the service
func (s *ServiceConfig) ClientURI() string {
	return transport.URI(s.Host, s.Query.Port.Client)
}

// ControlURI is where the monitor reaches the service
func (s *ServiceConfig) ControlURI() string {
	return transport.URI(s.Host, s.Control.Port)
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Service resolves the settings of name: its cluster entry on top of the
// common section, then environment overrides
func (c *Config) Service(name string) (*ServiceConfig, error) {
	for i := range c.Cluster {
		if c.Cluster[i].Name == name {
			resolved := merge(c.Common, c.Cluster[i])
			if err := applyEnv(&resolved); err != nil {
				return nil, err
			}
			return &resolved, nil
		}
	}
	return nil, fmt.Errorf("service %s is not configured in the cluster", name)
}

// Names returns the configured service names in file order
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Cluster))
	for _, s := range c.Cluster {
		names = append(names, s.Name)
	}
	return names
}

// merge returns base with every field set in override replacing it
func merge(base, override ServiceConfig) ServiceConfig {
	out := base
	out.Name = override.Name
	if override.Active != nil {
		out.Active = override.Active
	}
	if override.Host != "" {
		out.Host = override.Host
	}
	if override.BindHost != "" {
		out.BindHost = override.BindHost
	}
	if override.Query.Port.Client != 0 {
		out.Query.Port.Client = override.Query.Port.Client
	}
	if override.Query.Port.Worker != 0 {
		out.Query.Port.Worker = override.Query.Port.Worker
	}
	if override.Control.Port != 0 {
		out.Control.Port = override.Control.Port
	}
	if override.Service.Scale != 0 {
		out.Service.Scale = override.Service.Scale
	}
	if override.Queue.MaxPending != nil {
		out.Queue.MaxPending = override.Queue.MaxPending
	}
	if override.Heartbeat != 0 {
		out.Heartbeat = override.Heartbeat
	}
	if override.DataInterval != 0 {
		out.DataInterval = override.DataInterval
	}
	if override.Store.Driver != "" {
		out.Store.Driver = override.Store.Driver
	}
	if override.Store.Path != "" {
		out.Store.Path = override.Store.Path
	}
	if override.Store.Addr != "" {
		out.Store.Addr = override.Store.Addr
	}
	if override.Store.Size != 0 {
		out.Store.Size = override.Store.Size
	}
	if override.Monitor.URL != "" {
		out.Monitor.URL = override.Monitor.URL
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Cluster) == 0 {
		return fmt.Errorf("at least one service must be configured in cluster")
	}

	names := make(map[string]bool)
	for i := range c.Cluster {
		if c.Cluster[i].Name == "" {
			return fmt.Errorf("cluster[%d].name is required", i)
		}
		if names[c.Cluster[i].Name] {
			return fmt.Errorf("duplicate service name: %s", c.Cluster[i].Name)
		}
		names[c.Cluster[i].Name] = true

		s := merge(c.Common, c.Cluster[i])
		if err := s.Validate(); err != nil {
			return fmt.Errorf("cluster[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks a resolved service configuration
func (s *ServiceConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("%s: host is required", s.Name)
	}

	ports := map[string]int{
		"query.port.client": s.Query.Port.Client,
		"query.port.worker": s.Query.Port.Worker,
		"control.port":      s.Control.Port,
	}
	seen := make(map[int]string)
	for _, field := range []string{"query.port.client", "query.port.worker", "control.port"} {
		port := ports[field]
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s: %s must be between 1 and 65535", s.Name, field)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s: %s and %s share port %d", s.Name, other, field, port)
		}
		seen[port] = field
	}

	if s.Service.Scale < 1 {
		return fmt.Errorf("%s: service.scale must be at least 1", s.Name)
	}
	if s.Queue.MaxPending != nil && *s.Queue.MaxPending < 0 {
		return fmt.Errorf("%s: queue.max_pending cannot be negative", s.Name)
	}
	if s.Heartbeat < 0 {
		return fmt.Errorf("%s: heartbeat cannot be negative", s.Name)
	}

	switch s.Store.Driver {
	case "", StoreMemory:
	case StoreSQLite:
		if s.Store.Path == "" {
			return fmt.Errorf("%s: store.path is required for the sqlite driver", s.Name)
		}
	case StoreRedis:
		if s.Store.Addr == "" {
			return fmt.Errorf("%s: store.addr is required for the redis driver", s.Name)
		}
	default:
		return fmt.Errorf("%s: unknown store.driver %q", s.Name, s.Store.Driver)
	}
	return nil
}

// Save saves the configuration to a YAML file
func (c *Config) Save(filepath string) error {
	return SaveConfig(c, filepath)
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates a default configuration template with the
// example service
func NewDefaultConfig() *Config {
	active := true
	maxPending := 100

	return &Config{
		Common: ServiceConfig{
			Host:         "localhost",
			Service:      ScaleConfig{Scale: 2},
			Queue:        QueueConfig{MaxPending: &maxPending},
			Heartbeat:    5 * time.Second,
			DataInterval: time.Second,
			Store: StoreConfig{
				Driver: StoreMemory,
				Size:   10000,
			},
		},
		Cluster: []ServiceConfig{
			{
				Name:   "example-service",
				Active: &active,
				Query: QueryConfig{
					Port: PortConfig{Client: 5555, Worker: 5556},
				},
				Control: ControlConfig{Port: 5557},
				Service: ScaleConfig{Scale: 4},
			},
		},
	}
}
