package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-i4c3d/internal/config"
	"github.com/teslashibe/go-i4c3d/internal/httpc"
)

// overrides holds the persistent flags that win over the file and the
// environment. Zero values mean unset.
type overrides struct {
	host     string
	tcpPort  int
	udpPort  int
	mode     string
	listen   string
	logLevel string
}

func (o *overrides) apply(cfg *config.Config) {
	if v := strings.TrimSpace(o.host); v != "" {
		cfg.Target.Host = v
	}
	if o.tcpPort != 0 {
		cfg.Target.TCPPort = o.tcpPort
	}
	if o.udpPort != 0 {
		cfg.Target.UDPPort = o.udpPort
	}
	if v := strings.TrimSpace(o.mode); v != "" {
		cfg.Gesture.InitialMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(o.listen); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(o.logLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

type commandContext struct {
	configFlag *string
	overrides  *overrides

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string, ov *overrides) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		overrides:  ov,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.overrides != nil {
			c.overrides.apply(cfg)
			if err := cfg.Validate(); err != nil {
				c.configErr = err
				return
			}
		}
		c.config, c.configPath, c.configExists = cfg, resolved, exists
	})
	return c.config, c.configErr
}

// serverURL is the base URL of the session described by the configuration.
func (c *commandContext) serverURL() (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return httpc.BaseURL(cfg.Server.Listen), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
