package auth

import (
	"errors"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrWeakSigningKey    = errors.New("signing key must be at least 16 bytes")
)

// AuthConfig holds TLS settings for the gRPC transport between the
// gateway and the remote datacenters.
type AuthConfig struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	CAPath            string `json:"ca_cert" mapstructure:"ca_cert"`
	CertPath          string `json:"cert" mapstructure:"cert"`
	KeyPath           string `json:"key" mapstructure:"key"`
	ClientCAPath      string `json:"client_ca,omitempty" mapstructure:"client_ca"`
	RequireClientAuth bool   `json:"require_client_auth" mapstructure:"require_client_auth"`
	ServerName        string `json:"server_name,omitempty" mapstructure:"server_name"`
	MinTLSVersion     string `json:"min_tls_version,omitempty" mapstructure:"min_tls_version"`
}

// DefaultAuthConfig returns default authentication configuration
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Enabled:       false,
		MinTLSVersion: "1.2",
	}
}

// Validate checks if the authentication configuration is valid
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.CAPath == "" {
		return errors.New("CA certificate path is required when TLS is enabled")
	}

	if (c.CertPath == "") != (c.KeyPath == "") {
		return errors.New("certificate and key paths must be set together")
	}

	if c.RequireClientAuth && c.CertPath == "" {
		return errors.New("server certificate is required when client auth is enforced")
	}

	return nil
}
