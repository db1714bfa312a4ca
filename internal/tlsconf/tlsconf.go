// Package tlsconf builds the TLS configurations for both ends of a session.
//
// The host serves a certificate from PEM files, from ACME, or, for
// development, an ephemeral self-signed one created at startup. The viewer
// verifies against system roots, against a trusted certificate file with
// host name checks disabled, or not at all.
package tlsconf

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// ErrNoCertificate is returned when a certificate is required but none is
// configured.
var ErrNoCertificate = errors.New("no TLS certificate configured")

type Source int

const (
	SourceFiles Source = iota
	SourceACME
	SourceEphemeral
)

func (s Source) String() string {
	switch s {
	case SourceFiles:
		return "files"
	case SourceACME:
		return "acme"
	case SourceEphemeral:
		return "ephemeral"
	}
	return "unknown"
}

type ServerOptions struct {
	CertFile string
	KeyFile  string

	// ACMEDomains switches to Let's Encrypt certificates cached in
	// ACMECache.
	ACMEDomains []string
	ACMECache   string

	// RequireCert disables the ephemeral fallback.
	RequireCert bool

	// Hosts and IPs are the subject alternative names of an ephemeral
	// certificate, in addition to localhost and the loopback addresses.
	Hosts []string
	IPs   []net.IP
}

// Server is a host TLS configuration and how its certificate was obtained.
type Server struct {
	Config *tls.Config
	Source Source
	// Leaf is the served certificate for files and ephemeral sources.
	Leaf *tls.Certificate
}

func NewServer(opts ServerOptions) (*Server, error) {
	switch {
	case opts.CertFile != "" || opts.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load certificate: %w", err)
		}
		return &Server{Config: serverConfig(cert), Source: SourceFiles, Leaf: &cert}, nil

	case len(opts.ACMEDomains) > 0:
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(opts.ACMEDomains...),
		}
		if opts.ACMECache != "" {
			m.Cache = autocert.DirCache(opts.ACMECache)
		}
		cfg := m.TLSConfig()
		cfg.MinVersion = tls.VersionTLS12
		return &Server{Config: cfg, Source: SourceACME}, nil

	case opts.RequireCert:
		return nil, ErrNoCertificate
	}

	cert, err := SelfSigned(opts.Hosts, opts.IPs)
	if err != nil {
		return nil, err
	}
	return &Server{Config: serverConfig(cert), Source: SourceEphemeral, Leaf: &cert}, nil
}

func serverConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// SelfSigned creates a certificate that is its own CA, so a viewer can
// trust the exported PEM directly.
func SelfSigned(hosts []string, ips []net.IP) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	dnsNames := []string{"localhost"}
	if name, err := os.Hostname(); err == nil && name != "" {
		dnsNames = append(dnsNames, name)
	}
	dnsNames = append(dnsNames, hosts...)
	ipAddrs := append([]net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}, ips...)

	tmpl := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			Organization: []string{"remotedesk"},
			CommonName:   "remotedesk host",
		},
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(30 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// WriteCertificate writes cert's chain as PEM, for use as a viewer's CA file.
func WriteCertificate(path string, cert *tls.Certificate) error {
	var b strings.Builder
	for _, der := range cert.Certificate {
		if err := pem.Encode(&b, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// Fingerprint is the SHA-256 of the leaf certificate, colon separated.
func Fingerprint(cert *tls.Certificate) string {
	if cert == nil || len(cert.Certificate) == 0 {
		return ""
	}
	sum := sha256.Sum256(cert.Certificate[0])
	h := hex.EncodeToString(sum[:])
	parts := make([]string, 0, len(sum))
	for i := 0; i < len(h); i += 2 {
		parts = append(parts, strings.ToUpper(h[i:i+2]))
	}
	return strings.Join(parts, ":")
}

func newSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, _ := rand.Int(rand.Reader, limit)
	return serial
}
