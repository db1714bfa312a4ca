package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

type ClientOptions struct {
	// CAFile is trusted as a root. Host names are not checked, so a
	// self-signed host certificate works when dialing by IP.
	CAFile string
	// Insecure skips verification entirely.
	Insecure bool
}

func NewClient(opts ClientOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch {
	case opts.Insecure && opts.CAFile != "":
		return nil, errors.New("insecure and CA file are mutually exclusive")
	case opts.Insecure:
		cfg.InsecureSkipVerify = true
	case opts.CAFile != "":
		pemData, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates in %s", opts.CAFile)
		}
		// Chain verification happens in VerifyConnection, without the
		// server name.
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = verifyChain(pool)
	}
	return cfg, nil
}

func verifyChain(roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("server sent no certificate")
		}
		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
		}
		for _, c := range cs.PeerCertificates[1:] {
			opts.Intermediates.AddCert(c)
		}
		if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
			return fmt.Errorf("verify host certificate: %w", err)
		}
		return nil
	}
}
