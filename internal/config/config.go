package config

import (
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port         int           `yaml:"port" default:"8080"`
		Host         string        `yaml:"host" default:"0.0.0.0"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
		IdleTimeout  time.Duration `yaml:"idle_timeout" default:"60s"`
	} `yaml:"server"`

	Dispatch struct {
		FailureThreshold int           `yaml:"failure_threshold" default:"5"`
		RecoveryTimeout  time.Duration `yaml:"recovery_timeout" default:"60s"`
		HalfOpenMaxCalls int           `yaml:"half_open_max_calls" default:"3"`
		Strategy         string        `yaml:"strategy" default:"speed_first"`
		MinSamples       int           `yaml:"min_samples" default:"10"` // per-backend samples before reliability ranking
	} `yaml:"dispatch"`

	Engines struct {
		Colly struct {
			UserAgent   string        `yaml:"user_agent"`
			Timeout     time.Duration `yaml:"timeout" default:"30s"`
			MaxRetries  int           `yaml:"max_retries" default:"3"`
			RetryDelay  time.Duration `yaml:"retry_delay" default:"1s"`
			Parallelism int           `yaml:"parallelism" default:"20"`
			RateLimit   int           `yaml:"rate_limit" default:"60"` // requests per minute per domain
		} `yaml:"colly"`

		Fetch struct {
			UserAgent  string        `yaml:"user_agent"`
			Timeout    time.Duration `yaml:"timeout" default:"30s"`
			MaxRetries int           `yaml:"max_retries" default:"3"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"1s"`
			MaxConns   int           `yaml:"max_conns" default:"100"`
			RateLimit  int           `yaml:"rate_limit" default:"60"`
		} `yaml:"fetch"`

		Headed struct {
			HeadlessMode      bool          `yaml:"headless_mode" default:"true"`
			StealthMode       bool          `yaml:"stealth_mode" default:"true"`
			UserAgent         string        `yaml:"user_agent"`
			MaxContexts       int           `yaml:"max_contexts" default:"3"` // each context holds a browser page
			NavigationTimeout time.Duration `yaml:"navigation_timeout" default:"30s"`
			SettleDelay       time.Duration `yaml:"settle_delay" default:"2s"`
		} `yaml:"headed"`
	} `yaml:"engines"`

	Proxy struct {
		DefaultPool           string        `yaml:"default_pool" default:"default"`
		HealthCheckInterval   time.Duration `yaml:"health_check_interval" default:"300s"`
		SessionTTL            time.Duration `yaml:"session_ttl" default:"30m"`
		MaxConcurrentPerProxy int           `yaml:"max_concurrent_per_proxy" default:"5"`
		HealthReward          float64       `yaml:"health_reward" default:"0.01"`
		HealthPenalty         float64       `yaml:"health_penalty" default:"0.05"`
		VPNFailureThreshold   int           `yaml:"vpn_failure_threshold" default:"3"`
	} `yaml:"proxy"`

	VPN struct {
		Provider           string        `yaml:"provider" default:"pia"`
		ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"30s"`
		PreferredCountries []string      `yaml:"preferred_countries"`
	} `yaml:"vpn"`

	Redis struct {
		URL      string        `yaml:"url" default:"redis://localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db" default:"0"`
		Timeout  time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"redis"`

	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`

		Adapters []struct {
			Name    string                 `yaml:"name"`
			Type    string                 `yaml:"type"`
			Enabled bool                   `yaml:"enabled"`
			Options map[string]interface{} `yaml:"options"`
		} `yaml:"adapters"`
	} `yaml:"logging"`
}

// expandEnvVars expands environment variables in a string using ${VAR} or $VAR syntax
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	re2 := regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	s = re2.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return s
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	config := &Config{}

	// Set defaults
	config.Server.Port = 8080
	config.Server.Host = "0.0.0.0"
	config.Server.ReadTimeout = 30 * time.Second
	config.Server.WriteTimeout = 30 * time.Second
	config.Server.IdleTimeout = 60 * time.Second

	config.Dispatch.FailureThreshold = 5
	config.Dispatch.RecoveryTimeout = 60 * time.Second
	config.Dispatch.HalfOpenMaxCalls = 3
	config.Dispatch.Strategy = "speed_first"
	config.Dispatch.MinSamples = 10

	config.Engines.Colly.Timeout = 30 * time.Second
	config.Engines.Colly.MaxRetries = 3
	config.Engines.Colly.RetryDelay = time.Second
	config.Engines.Colly.Parallelism = 20
	config.Engines.Colly.RateLimit = 60
	config.Engines.Colly.UserAgent = defaultUserAgent

	config.Engines.Fetch.Timeout = 30 * time.Second
	config.Engines.Fetch.MaxRetries = 3
	config.Engines.Fetch.RetryDelay = time.Second
	config.Engines.Fetch.MaxConns = 100
	config.Engines.Fetch.RateLimit = 60
	config.Engines.Fetch.UserAgent = defaultUserAgent

	config.Engines.Headed.HeadlessMode = true
	config.Engines.Headed.StealthMode = true
	config.Engines.Headed.MaxContexts = 3
	config.Engines.Headed.NavigationTimeout = 30 * time.Second
	config.Engines.Headed.SettleDelay = 2 * time.Second
	config.Engines.Headed.UserAgent = defaultUserAgent

	config.Proxy.DefaultPool = "default"
	config.Proxy.HealthCheckInterval = 300 * time.Second
	config.Proxy.SessionTTL = 30 * time.Minute
	config.Proxy.MaxConcurrentPerProxy = 5
	config.Proxy.HealthReward = 0.01
	config.Proxy.HealthPenalty = 0.05
	config.Proxy.VPNFailureThreshold = 3

	config.VPN.Provider = "pia"
	config.VPN.ConnectTimeout = 30 * time.Second
	config.VPN.PreferredCountries = []string{"US", "UK", "DE", "CA"}

	config.Redis.URL = "redis://localhost:6379"
	config.Redis.DB = 0
	config.Redis.Timeout = 5 * time.Second

	config.Logging.Level = "info"
	config.Logging.Format = "json"

	// Load from YAML file if it exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			yamlContent := expandEnvVars(string(data))

			if err := yaml.Unmarshal([]byte(yamlContent), config); err != nil {
				return nil, err
			}
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	return config, nil
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}

	if strategy := os.Getenv("DISPATCH_STRATEGY"); strategy != "" {
		c.Dispatch.Strategy = strategy
	}

	if threshold := os.Getenv("DISPATCH_FAILURE_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil {
			c.Dispatch.FailureThreshold = t
		}
	}

	if timeout := os.Getenv("DISPATCH_RECOVERY_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.Dispatch.RecoveryTimeout = d
		}
	}

	if maxContexts := os.Getenv("HEADED_MAX_CONTEXTS"); maxContexts != "" {
		if n, err := strconv.Atoi(maxContexts); err == nil {
			c.Engines.Headed.MaxContexts = n
		}
	}

	if headless := os.Getenv("HEADED_HEADLESS_MODE"); headless != "" {
		c.Engines.Headed.HeadlessMode = headless == "true" || headless == "1"
	}

	if interval := os.Getenv("PROXY_HEALTH_CHECK_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Proxy.HealthCheckInterval = d
		}
	}

	if ttl := os.Getenv("PROXY_SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			c.Proxy.SessionTTL = d
		}
	}

	if provider := os.Getenv("VPN_PROVIDER"); provider != "" {
		c.VPN.Provider = provider
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.URL = redisURL
	}

	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.Redis.Password = redisPassword
	}

	if redisDB := os.Getenv("REDIS_DB"); redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			c.Redis.DB = db
		}
	}

	if redisTimeout := os.Getenv("REDIS_TIMEOUT"); redisTimeout != "" {
		if timeout, err := time.ParseDuration(redisTimeout); err == nil {
			c.Redis.Timeout = timeout
		}
	}
}
