package vpn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webharvest/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.VPN.Provider = "pia"
	cfg.VPN.ConnectTimeout = 5 * time.Second
	return cfg
}

// fakePIACtl scripts piactl responses keyed by subcommand
type fakePIACtl struct {
	mu        sync.Mutex
	state     string
	commands  []string
	failState bool
}

func (f *fakePIACtl) run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := name + " " + strings.Join(args, " ")
	f.commands = append(f.commands, cmd)

	switch cmd {
	case "piactl get connectionstate":
		if f.failState {
			return "", fmt.Errorf("piactl not running")
		}
		return f.state, nil
	case "piactl connect":
		f.state = "Connected"
		return "", nil
	case "piactl disconnect":
		f.state = "Disconnected"
		return "", nil
	case "piactl get regions":
		return "us-east\nde-frankfurt\nauto\n", nil
	default:
		if strings.HasPrefix(cmd, "piactl set region ") {
			return "", nil
		}
		return "", fmt.Errorf("unexpected command: %s", cmd)
	}
}

func newTestClient(fake *fakePIACtl) *PIAClient {
	c := NewPIAClient(testConfig())
	c.run = fake.run
	return c
}

func TestStatusReportsConnectionState(t *testing.T) {
	fake := &fakePIACtl{state: "Connected"}
	c := newTestClient(fake)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Connected", status)
}

func TestStatusUnknownOnCommandFailure(t *testing.T) {
	fake := &fakePIACtl{failState: true}
	c := newTestClient(fake)

	status, err := c.Status(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "unknown", status)
}

func TestConnectSetsRegionAndWaitsForTunnel(t *testing.T) {
	fake := &fakePIACtl{state: "Disconnected"}
	c := newTestClient(fake)

	err := c.Connect(context.Background(), "de-frankfurt", "")
	require.NoError(t, err)

	assert.Contains(t, fake.commands, "piactl set region de-frankfurt")
	assert.Contains(t, fake.commands, "piactl connect")

	proxy, err := c.ProxyConfig(context.Background())
	require.NoError(t, err)
	require.NotNil(t, proxy)
	assert.Equal(t, "de-frankfurt.privateinternetaccess.com", proxy.Host)
	assert.Equal(t, "DE", proxy.Country)
}

func TestConnectPicksOptimalServerForCountry(t *testing.T) {
	fake := &fakePIACtl{state: "Disconnected"}
	c := newTestClient(fake)
	c.servers["us-east"].Load = 0.9
	c.servers["us-west"].Load = 0.1

	err := c.Connect(context.Background(), "", "US")
	require.NoError(t, err)
	assert.Contains(t, fake.commands, "piactl set region us-west")
}

func TestRotateExcludesCurrentServer(t *testing.T) {
	fake := &fakePIACtl{state: "Disconnected"}
	c := newTestClient(fake)
	c.servers["us-east"].Load = 0.0
	c.servers["us-west"].Load = 0.1

	require.NoError(t, c.Connect(context.Background(), "us-east", ""))
	require.NoError(t, c.Rotate(context.Background(), "US"))

	assert.Contains(t, fake.commands, "piactl set region us-west")
}

func TestProxyConfigNilWhenDisconnected(t *testing.T) {
	fake := &fakePIACtl{state: "Disconnected"}
	c := newTestClient(fake)

	proxy, err := c.ProxyConfig(context.Background())
	require.NoError(t, err)
	assert.Nil(t, proxy)
}

func TestRefreshServersParsesRegionList(t *testing.T) {
	fake := &fakePIACtl{state: "Disconnected"}
	c := newTestClient(fake)

	require.NoError(t, c.RefreshServers(context.Background()))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.servers, 2, "the auto pseudo-region must be skipped")
	assert.Contains(t, c.servers, "us-east")
	assert.Contains(t, c.servers, "de-frankfurt")
}

func TestCountryFromRegion(t *testing.T) {
	assert.Equal(t, "DE", countryFromRegion("de-frankfurt"))
	assert.Equal(t, "US", countryFromRegion("us-east"))
	assert.Equal(t, "SWEDEN", countryFromRegion("sweden"))
}

func TestAvailableCountriesSortedUnique(t *testing.T) {
	c := NewPIAClient(testConfig())
	countries := c.AvailableCountries()
	assert.Equal(t, []string{"AU", "CA", "DE", "JP", "SG", "UK", "US"}, countries)
}

func TestManagerRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.VPN.Provider = "nordvpn"
	_, err := NewManager(cfg)
	assert.Error(t, err)
}
