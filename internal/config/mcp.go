package config

import (
	"fmt"
	"os"

	"github.com/firebase/genkit/go/plugins/mcp"
)

// MCPServerConfig describes one MCP capability server in config.yaml.
// Servers listed here are merged with the built-in ones from LoadMCPConfigs.
type MCPServerConfig struct {
	Name    string   `mapstructure:"name" json:"name"`
	Command string   `mapstructure:"command" json:"command"`
	Args    []string `mapstructure:"args" json:"args"`
	Env     []string `mapstructure:"env" json:"env"`
}

// MCPConfig represents configuration for a single MCP server connection.
type MCPConfig struct {
	Name          string
	ClientOptions mcp.MCPClientOptions
}

// LoadMCPConfigs assembles MCP server configurations for the travel
// capability set. Built-in servers are enabled from environment variables,
// following the 12-factor app methodology:
//
//   - Amap maps (weather, POI search, geocoding, routing): AMAP_MAPS_API_KEY
//   - VariFlight flight status: VARIFLIGHT_API_KEY
//   - 12306 train tickets: always enabled (no key required)
//
// Additional servers from config.yaml (cfg.MCPServers) are appended as-is.
// A server whose key is absent is simply skipped; the capability set is
// assembled from whichever integrations are available.
func LoadMCPConfigs(cfg *Config) []MCPConfig {
	var configs []MCPConfig

	// Amap maps MCP server (weather, POI, geocode, direction tools)
	if apiKey := os.Getenv("AMAP_MAPS_API_KEY"); apiKey != "" {
		configs = append(configs, MCPConfig{
			Name: "amap-maps",
			ClientOptions: mcp.MCPClientOptions{
				Name: "amap-maps",
				Stdio: &mcp.StdioConfig{
					Command: "npx",
					Args:    []string{"-y", "@amap/amap-maps-mcp-server"},
					Env:     envMapToSlice(map[string]string{"AMAP_MAPS_API_KEY": apiKey}),
				},
			},
		})
	}

	// VariFlight flight status MCP server
	if apiKey := os.Getenv("VARIFLIGHT_API_KEY"); apiKey != "" {
		configs = append(configs, MCPConfig{
			Name: "variflight",
			ClientOptions: mcp.MCPClientOptions{
				Name: "variflight",
				Stdio: &mcp.StdioConfig{
					Command: "npx",
					Args:    []string{"-y", "@variflight-ai/variflight-mcp"},
					Env:     envMapToSlice(map[string]string{"VARIFLIGHT_API_KEY": apiKey}),
				},
			},
		})
	}

	// 12306 train ticket MCP server (no credentials required)
	configs = append(configs, MCPConfig{
		Name: "12306",
		ClientOptions: mcp.MCPClientOptions{
			Name: "12306",
			Stdio: &mcp.StdioConfig{
				Command: "npx",
				Args:    []string{"-y", "12306-mcp"},
			},
		},
	})

	// User-defined servers from config.yaml
	if cfg != nil {
		for _, s := range cfg.MCPServers {
			if s.Name == "" || s.Command == "" {
				continue
			}
			configs = append(configs, MCPConfig{
				Name: s.Name,
				ClientOptions: mcp.MCPClientOptions{
					Name: s.Name,
					Stdio: &mcp.StdioConfig{
						Command: s.Command,
						Args:    s.Args,
						Env:     s.Env,
					},
				},
			})
		}
	}

	return configs
}

// envMapToSlice converts a map of environment variables to the slice format
// required by Genkit's StdioConfig.Env field.
func envMapToSlice(m map[string]string) []string {
	if m == nil {
		return nil
	}
	result := make([]string, 0, len(m))
	for k, v := range m {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}
