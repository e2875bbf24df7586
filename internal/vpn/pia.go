package vpn

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"webharvest/internal/config"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
)

// Server describes one PIA region endpoint
type Server struct {
	Name    string  `json:"name"`
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Country string  `json:"country"`
	Region  string  `json:"region"`
	City    string  `json:"city"`
	Load    float64 `json:"load"`
	Latency float64 `json:"latency_ms"`
}

// commandRunner executes an external command and returns its stdout.
// Swappable in tests so no piactl binary is needed.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// PIAClient drives the Private Internet Access desktop client through
// its piactl command-line interface.
type PIAClient struct {
	cfg    *config.Config
	logger logging.Logger
	run    commandRunner

	mu      sync.Mutex
	servers map[string]*Server
	current *Server
	status  string
}

// NewPIAClient creates a PIA client with the built-in server list
func NewPIAClient(cfg *config.Config) *PIAClient {
	c := &PIAClient{
		cfg:     cfg,
		logger:  logging.GetGlobalLogger(),
		run:     execRunner,
		servers: make(map[string]*Server),
		status:  "Disconnected",
	}
	c.loadDefaultServers()
	return c
}

// loadDefaultServers seeds the well-known PIA regions used when the
// region listing is unavailable.
func (c *PIAClient) loadDefaultServers() {
	defaults := []*Server{
		{Name: "us-east", Host: "us-east.privateinternetaccess.com", Country: "US", Region: "East Coast", City: "New York"},
		{Name: "us-west", Host: "us-west.privateinternetaccess.com", Country: "US", Region: "West Coast", City: "Los Angeles"},
		{Name: "uk-london", Host: "uk-london.privateinternetaccess.com", Country: "UK", Region: "England", City: "London"},
		{Name: "de-frankfurt", Host: "de-frankfurt.privateinternetaccess.com", Country: "DE", Region: "Hesse", City: "Frankfurt"},
		{Name: "ca-toronto", Host: "ca-toronto.privateinternetaccess.com", Country: "CA", Region: "Ontario", City: "Toronto"},
		{Name: "au-sydney", Host: "au-sydney.privateinternetaccess.com", Country: "AU", Region: "NSW", City: "Sydney"},
		{Name: "jp-tokyo", Host: "jp-tokyo.privateinternetaccess.com", Country: "JP", Region: "Tokyo", City: "Tokyo"},
		{Name: "sg-singapore", Host: "sg-singapore.privateinternetaccess.com", Country: "SG", Region: "Singapore", City: "Singapore"},
	}
	for _, s := range defaults {
		s.Port = 1080
		s.Load = 0.5
		s.Latency = 100.0
		c.servers[s.Name] = s
	}
}

// RefreshServers replaces the server list with the regions piactl
// reports, keeping the defaults on failure.
func (c *PIAClient) RefreshServers(ctx context.Context) error {
	out, err := c.run(ctx, "piactl", "get", "regions")
	if err != nil {
		c.logger.Warn("Could not list PIA regions, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	servers := make(map[string]*Server)
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || name == "auto" {
			continue
		}
		if existing, ok := c.servers[name]; ok {
			servers[name] = existing
			continue
		}
		servers[name] = &Server{
			Name:    name,
			Host:    name + ".privateinternetaccess.com",
			Port:    1080,
			Country: countryFromRegion(name),
			Load:    0.5,
			Latency: 100.0,
		}
	}

	c.mu.Lock()
	if len(servers) > 0 {
		c.servers = servers
	}
	c.mu.Unlock()
	return nil
}

// countryFromRegion guesses the country code from a region name like
// "de-frankfurt" or "us-east".
func countryFromRegion(name string) string {
	if idx := strings.Index(name, "-"); idx > 0 {
		return strings.ToUpper(name[:idx])
	}
	return strings.ToUpper(name)
}

// Connect attaches to the named server, or the optimal server for the
// country when serverName is empty. It blocks until piactl reports a
// connected state or the configured connect timeout elapses.
func (c *PIAClient) Connect(ctx context.Context, serverName, country string) error {
	server := c.serverByName(serverName)
	if server == nil {
		server = c.optimalServer(country, "")
	}
	if server == nil {
		return fmt.Errorf("no PIA server matches name %q country %q", serverName, country)
	}
	return c.connectToServer(ctx, server)
}

func (c *PIAClient) connectToServer(ctx context.Context, server *Server) error {
	if status, _ := c.Status(ctx); status == "Connected" {
		if err := c.Disconnect(ctx); err != nil {
			return err
		}
	}

	if _, err := c.run(ctx, "piactl", "set", "region", server.Name); err != nil {
		return fmt.Errorf("failed to set PIA region %s: %w", server.Name, err)
	}
	if _, err := c.run(ctx, "piactl", "connect"); err != nil {
		return fmt.Errorf("failed to start PIA connection: %w", err)
	}

	timeout := c.cfg.VPN.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		status, err := c.Status(ctx)
		if err != nil {
			continue
		}
		if status == "Connected" {
			c.mu.Lock()
			c.current = server
			c.mu.Unlock()
			c.logger.Info("Connected to PIA server", map[string]interface{}{
				"server":  server.Name,
				"country": server.Country,
			})
			return nil
		}
	}
	return fmt.Errorf("timed out connecting to PIA server %s", server.Name)
}

// Disconnect tears down the active tunnel
func (c *PIAClient) Disconnect(ctx context.Context) error {
	if _, err := c.run(ctx, "piactl", "disconnect"); err != nil {
		return fmt.Errorf("failed to disconnect PIA: %w", err)
	}
	c.mu.Lock()
	c.status = "Disconnected"
	c.current = nil
	c.mu.Unlock()
	return nil
}

// Rotate moves to a different server, preferring the least-loaded one
// outside the current region, optionally constrained by country.
func (c *PIAClient) Rotate(ctx context.Context, country string) error {
	c.mu.Lock()
	currentName := ""
	if c.current != nil {
		currentName = c.current.Name
	}
	c.mu.Unlock()

	server := c.optimalServer(country, currentName)
	if server == nil {
		return fmt.Errorf("no PIA server available for rotation (country %q)", country)
	}
	if err := c.connectToServer(ctx, server); err != nil {
		return err
	}
	c.logger.Info("Rotated to new PIA server", map[string]interface{}{
		"server": server.Name,
	})
	return nil
}

// Status queries piactl for the live connection state
func (c *PIAClient) Status(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "piactl", "get", "connectionstate")
	if err != nil {
		c.mu.Lock()
		c.status = "unknown"
		c.mu.Unlock()
		return "unknown", err
	}
	c.mu.Lock()
	c.status = out
	c.mu.Unlock()
	return out, nil
}

// ProxyConfig renders the current tunnel as a proxy record, or nil
// when not connected.
func (c *PIAClient) ProxyConfig(ctx context.Context) (*models.ProxyRecord, error) {
	status, _ := c.Status(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || status != "Connected" {
		return nil, nil
	}
	return &models.ProxyRecord{
		Host:        c.current.Host,
		Port:        c.current.Port,
		Protocol:    models.ProxyVPN,
		Provider:    models.ProviderPIA,
		Country:     c.current.Country,
		Region:      c.current.Region,
		City:        c.current.City,
		Status:      models.ProxyActive,
		HealthScore: 1.0 - c.current.Load/100.0,
		SuccessRate: 1.0,
	}, nil
}

// AvailableCountries lists the distinct countries in the server list
func (c *PIAClient) AvailableCountries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	var countries []string
	for _, s := range c.servers {
		if s.Country != "" && !seen[s.Country] {
			seen[s.Country] = true
			countries = append(countries, s.Country)
		}
	}
	sort.Strings(countries)
	return countries
}

func (c *PIAClient) serverByName(name string) *Server {
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.servers[name]
}

// optimalServer picks the lowest (load, latency) server, optionally
// filtered by country and excluding one server name.
func (c *PIAClient) optimalServer(country, exclude string) *Server {
	c.mu.Lock()
	defer c.mu.Unlock()

	var candidates []*Server
	for _, s := range c.servers {
		if s.Name == exclude {
			continue
		}
		if country != "" && !strings.EqualFold(s.Country, country) {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Load != candidates[j].Load {
			return candidates[i].Load < candidates[j].Load
		}
		return candidates[i].Latency < candidates[j].Latency
	})
	return candidates[0]
}
