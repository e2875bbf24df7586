package vpn

import (
	"context"
	"fmt"

	"webharvest/internal/config"
	"webharvest/internal/logging"
	"webharvest/pkg/models"
	"webharvest/pkg/utils"
)

// Controller is the provider-neutral VPN contract. Rotation success
// must leave ProxyConfig returning a usable record.
type Controller interface {
	Connect(ctx context.Context, serverName, country string) error
	Disconnect(ctx context.Context) error
	Rotate(ctx context.Context, country string) error
	Status(ctx context.Context) (string, error)
	ProxyConfig(ctx context.Context) (*models.ProxyRecord, error)
	AvailableCountries() []string
}

// Manager wraps the configured VPN provider behind the Controller
// contract and adds connection policy on top.
type Manager struct {
	cfg        *config.Config
	controller Controller
	logger     logging.Logger
}

// NewManager builds a manager for the configured provider
func NewManager(cfg *config.Config) (*Manager, error) {
	var controller Controller
	switch cfg.VPN.Provider {
	case "", "pia":
		controller = NewPIAClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported VPN provider: %s", cfg.VPN.Provider)
	}
	return &Manager{
		cfg:        cfg,
		controller: controller,
		logger:     logging.GetGlobalLogger(),
	}, nil
}

// Connect attaches to a named server or any server in a country
func (m *Manager) Connect(ctx context.Context, serverName, country string) error {
	return m.controller.Connect(ctx, serverName, country)
}

// Disconnect tears down the active tunnel
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.controller.Disconnect(ctx)
}

// Rotate moves to a different outbound endpoint
func (m *Manager) Rotate(ctx context.Context, country string) error {
	return m.controller.Rotate(ctx, country)
}

// Status reports the provider's connection state
func (m *Manager) Status(ctx context.Context) (string, error) {
	return m.controller.Status(ctx)
}

// ProxyConfig exposes the current tunnel as a proxy record
func (m *Manager) ProxyConfig(ctx context.Context) (*models.ProxyRecord, error) {
	return m.controller.ProxyConfig(ctx)
}

// AvailableCountries lists countries the provider can exit through
func (m *Manager) AvailableCountries() []string {
	return m.controller.AvailableCountries()
}

// AutoConnect walks the configured preferred countries and connects to
// the first one that succeeds.
func (m *Manager) AutoConnect(ctx context.Context) error {
	countries := m.cfg.VPN.PreferredCountries
	if len(countries) == 0 {
		countries = []string{""}
	}

	available := m.controller.AvailableCountries()

	var lastErr error
	for _, country := range countries {
		if country != "" && len(available) > 0 && !utils.Contains(available, country) {
			m.logger.Debug("Skipping country without servers", map[string]interface{}{
				"country": country,
			})
			continue
		}
		if err := m.controller.Connect(ctx, "", country); err != nil {
			m.logger.Warn("VPN connect attempt failed", map[string]interface{}{
				"country": country,
				"error":   err.Error(),
			})
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("auto-connect exhausted preferred countries: %w", lastErr)
	}
	return fmt.Errorf("auto-connect had no countries to try")
}

// HealthCheck reports whether the tunnel is up
func (m *Manager) HealthCheck(ctx context.Context) bool {
	status, err := m.controller.Status(ctx)
	return err == nil && status == "Connected"
}
