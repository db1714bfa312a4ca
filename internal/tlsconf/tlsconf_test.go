package tlsconf

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handshake(t *testing.T, server, client *tls.Config, serverName string) error {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	errc := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errc <- err
			return
		}
		defer conn.Close()
		errc <- tls.Server(conn, server).Handshake()
	}()

	client = client.Clone()
	client.ServerName = serverName
	conn, err := tls.Dial("tcp", ln.Addr().String(), client)
	if err == nil {
		conn.Close()
	}
	<-errc
	return err
}

func ephemeral(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(ServerOptions{IPs: []net.IP{net.ParseIP("192.168.100.10")}})
	require.NoError(t, err)
	require.Equal(t, SourceEphemeral, srv.Source)
	return srv
}

func exportCA(t *testing.T, srv *Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, WriteCertificate(path, srv.Leaf))
	return path
}

func TestEphemeralCertificate(t *testing.T) {
	srv := ephemeral(t)
	leaf := srv.Leaf.Leaf
	require.NotNil(t, leaf)
	assert.Contains(t, leaf.DNSNames, "localhost")
	assert.True(t, leaf.IsCA)

	var ips []string
	for _, ip := range leaf.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.Contains(t, ips, "127.0.0.1")
	assert.Contains(t, ips, "192.168.100.10")

	fp := Fingerprint(srv.Leaf)
	assert.Len(t, fp, 32*3-1)
	assert.Equal(t, fp, Fingerprint(srv.Leaf))
}

func TestRequireCert(t *testing.T) {
	_, err := NewServer(ServerOptions{RequireCert: true})
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestLoadFromFiles(t *testing.T) {
	cert, err := SelfSigned(nil, nil)
	require.NoError(t, err)
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, WriteCertificate(certPath, &cert))

	der, err := x509.MarshalECPrivateKey(cert.PrivateKey.(*ecdsa.PrivateKey))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600))

	srv, err := NewServer(ServerOptions{CertFile: certPath, KeyFile: keyPath, RequireCert: true})
	require.NoError(t, err)
	assert.Equal(t, SourceFiles, srv.Source)
	assert.Equal(t, Fingerprint(&cert), Fingerprint(srv.Leaf))

	_, err = NewServer(ServerOptions{CertFile: certPath, KeyFile: filepath.Join(dir, "missing.pem")})
	assert.Error(t, err)
}

func TestACMEConfig(t *testing.T) {
	srv, err := NewServer(ServerOptions{ACMEDomains: []string{"desk.example.com"}, ACMECache: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, SourceACME, srv.Source)
	assert.NotNil(t, srv.Config.GetCertificate)
	assert.Nil(t, srv.Leaf)
}

func TestClientTrustsExportedCertificateByIP(t *testing.T) {
	srv := ephemeral(t)
	client, err := NewClient(ClientOptions{CAFile: exportCA(t, srv)})
	require.NoError(t, err)

	// The name is not in the certificate; only the chain is checked.
	assert.NoError(t, handshake(t, srv.Config, client, "203.0.113.50"))
}

func TestClientRejectsOtherCertificate(t *testing.T) {
	srv := ephemeral(t)
	other := ephemeral(t)
	client, err := NewClient(ClientOptions{CAFile: exportCA(t, other)})
	require.NoError(t, err)
	assert.Error(t, handshake(t, srv.Config, client, "localhost"))
}

func TestClientSystemRootsRejectSelfSigned(t *testing.T) {
	srv := ephemeral(t)
	client, err := NewClient(ClientOptions{})
	require.NoError(t, err)
	assert.Error(t, handshake(t, srv.Config, client, "localhost"))
}

func TestClientInsecure(t *testing.T) {
	srv := ephemeral(t)
	client, err := NewClient(ClientOptions{Insecure: true})
	require.NoError(t, err)
	assert.NoError(t, handshake(t, srv.Config, client, "anything"))
}

func TestClientOptionErrors(t *testing.T) {
	_, err := NewClient(ClientOptions{Insecure: true, CAFile: "ca.pem"})
	assert.Error(t, err)

	_, err = NewClient(ClientOptions{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not pem"), 0o600))
	_, err = NewClient(ClientOptions{CAFile: empty})
	assert.Error(t, err)
}
