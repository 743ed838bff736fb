package auth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// DialOption returns the transport credentials the gateway uses to reach
// datacenters. A disabled config dials in plaintext.
func (c *AuthConfig) DialOption() (grpc.DialOption, error) {
	if c == nil || !c.Enabled {
		return grpc.WithTransportCredentials(insecure.NewCredentials()), nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	roots, err := readPool(c.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA pool: %w", err)
	}
	tc := &tls.Config{
		RootCAs:    roots,
		ServerName: c.ServerName,
		MinVersion: c.minVersion(),
	}
	if c.CertPath != "" {
		pair, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{pair}
	}

	return grpc.WithTransportCredentials(credentials.NewTLS(tc)), nil
}

// ServerOptions returns the credentials a datacenter server listens with,
// or nothing when TLS is off.
func (c *AuthConfig) ServerOptions() ([]grpc.ServerOption, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.CertPath == "" {
		return nil, fmt.Errorf("datacenter TLS needs a certificate and key")
	}

	pair, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	tc := &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   c.minVersion(),
	}

	if c.RequireClientAuth {
		caPath := c.ClientCAPath
		if caPath == "" {
			caPath = c.CAPath
		}
		pool, err := readPool(caPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client CA pool: %w", err)
		}
		tc.ClientAuth = tls.RequireAndVerifyClientCert
		tc.ClientCAs = pool
	}

	return []grpc.ServerOption{grpc.Creds(credentials.NewTLS(tc))}, nil
}

func (c *AuthConfig) minVersion() uint16 {
	if c.MinTLSVersion == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

func readPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
