// Package tlsutil builds client TLS configurations for the broker and twin
// store connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/twinbridge/errors"
)

// ClientConfig describes the TLS settings of one outbound connection.
type ClientConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	CAFile             string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	CertFile           string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile            string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
	MinVersion         string `json:"min_version,omitempty" yaml:"min_version,omitempty"`
}

// LoadClientTLSConfig returns nil when TLS is disabled. Otherwise the system
// CA bundle is trusted plus CAFile, and CertFile/KeyFile are presented as
// the client certificate when both are set.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig",
				fmt.Sprintf("read CA file %s", cfg.CAFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", "LoadClientTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", cfg.CAFile))
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// operator opt-in, used against self-signed development stores
	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify

	return tlsConfig, nil
}

// parseTLSVersion returns tls.VersionTLS12 for empty or unknown values.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
