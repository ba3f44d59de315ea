// Package certs produces the server certificate for the stub server's TLS port.
//
// Without configured files the stub server generates a throwaway self-signed
// certificate at start; clients reach it with client.InsecureStubTLS.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Options control self-signed certificate generation.
type Options struct {
	Organization string
	CommonName   string
	// Hosts are DNS names or IP addresses placed in the SAN extension.
	Hosts    []string
	ValidFor time.Duration
}

// DefaultOptions returns options suitable for a stub server on the local machine.
func DefaultOptions() Options {
	return Options{
		Organization: "stubby",
		CommonName:   "localhost",
		Hosts:        []string{"localhost", "127.0.0.1", "::1"},
		ValidFor:     365 * 24 * time.Hour,
	}
}

// Pair is a PEM-encoded certificate and its private key.
type Pair struct {
	Leaf    *x509.Certificate
	CertPEM []byte
	KeyPEM  []byte
}

// SelfSigned generates an ECDSA P-256 certificate signed by its own key.
func SelfSigned(opts Options) (*Pair, error) {
	if opts.ValidFor <= 0 {
		opts.ValidFor = DefaultOptions().ValidFor
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{opts.Organization},
			CommonName:   opts.CommonName,
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(opts.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range opts.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return &Pair{
		Leaf:    leaf,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// TLSCertificate converts the pair for use in a tls.Config.
func (p *Pair) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(p.CertPEM, p.KeyPEM)
}

// Save writes the pair to disk. The key file is only readable by the owner.
func (p *Pair) Save(certPath, keyPath string) error {
	if p == nil {
		return errors.New("certificate pair cannot be nil")
	}
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(certPath, p.CertPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate file: %w", err)
	}
	if err := os.WriteFile(keyPath, p.KeyPEM, 0o600); err != nil {
		_ = os.Remove(certPath)
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// ServerConfig builds the server-side TLS configuration. When both files are
// empty a self-signed certificate is generated; otherwise both must be set.
func ServerConfig(certFile, keyFile string) (*tls.Config, error) {
	var cert tls.Certificate
	switch {
	case certFile == "" && keyFile == "":
		pair, err := SelfSigned(DefaultOptions())
		if err != nil {
			return nil, err
		}
		if cert, err = pair.TLSCertificate(); err != nil {
			return nil, fmt.Errorf("failed to load generated certificate: %w", err)
		}
	case certFile == "" || keyFile == "":
		return nil, errors.New("both certificate and key file are required")
	default:
		var err error
		if cert, err = tls.LoadX509KeyPair(certFile, keyFile); err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
