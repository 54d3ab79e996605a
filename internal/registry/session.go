package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/value"
)

// DefaultReconnectAttempts bounds transparent session reconnects for
// single-shot execution. Continuous runs default to unbounded so they ride
// out long outages.
const DefaultReconnectAttempts = 5

// SessionConfig assembles the OPC-UA session configuration from a node's
// config attributes. Nodes sharing the same endpoint and identity end up on
// the same session.
func (c *Call) SessionConfig() (opc.SessionConfig, error) {
	endpoint := value.GetString(c.Config, "endpoint")
	if endpoint == "" {
		return opc.SessionConfig{}, errors.New("missing required config attribute \"endpoint\"")
	}
	cfg := opc.SessionConfig{
		Endpoint:       endpoint,
		SecurityPolicy: value.GetString(c.Config, "security_policy"),
		SecurityMode:   value.GetString(c.Config, "security_mode"),
		Username:       value.GetString(c.Config, "username"),
		Password:       value.GetString(c.Config, "password"),
		CertFile:       value.GetString(c.Config, "cert_file"),
		KeyFile:        value.GetString(c.Config, "key_file"),
	}
	if s := value.GetString(c.Config, "call_timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return opc.SessionConfig{}, fmt.Errorf("invalid call_timeout: %w", err)
		}
		cfg.CallTimeout = d
	}
	if n := value.GetInt(c.Config, "reconnect_max_attempts", 0); n > 0 {
		cfg.Reconnect.MaxAttempts = int(n)
	} else if !c.Continuous {
		cfg.Reconnect.MaxAttempts = DefaultReconnectAttempts
	}
	return cfg, nil
}
