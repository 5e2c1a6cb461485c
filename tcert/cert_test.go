package tcert

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSelfSigned(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	certPEM, keyPEM, err := SelfSigned([]string{"printhost", "10.0.0.5"}, now, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := leaf.VerifyHostname("printhost"); err != nil {
		t.Error(err)
	}
	if err := leaf.VerifyHostname("10.0.0.5"); err != nil {
		t.Error(err)
	}
	if !leaf.NotAfter.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("NotAfter = %v", leaf.NotAfter)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	_, err = leaf.Verify(x509.VerifyOptions{
		DNSName:     "printhost",
		Roots:       pool,
		CurrentTime: now,
	})
	if err != nil {
		t.Errorf("self-signed chain does not verify: %v", err)
	}
}

func TestSelfSignedDefaultHosts(t *testing.T) {
	certPEM, keyPEM, err := SelfSigned(nil, time.Now(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	leaf, _ := x509.ParseCertificate(cert.Certificate[0])
	for _, h := range []string{"localhost", "127.0.0.1", "::1"} {
		if err := leaf.VerifyHostname(h); err != nil {
			t.Errorf("%s: %v", h, err)
		}
	}
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM, err := SelfSigned(nil, time.Now(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	bundle := filepath.Join(dir, "bundle.pem")
	os.WriteFile(certFile, certPEM, 0600)
	os.WriteFile(keyFile, keyPEM, 0600)
	os.WriteFile(bundle, append(append([]byte{}, certPEM...), keyPEM...), 0600)

	if _, err := Load(Source{CertFile: certFile, KeyFile: keyFile}); err != nil {
		t.Errorf("separate files: %v", err)
	}
	if _, err := Load(Source{CertFile: bundle}); err != nil {
		t.Errorf("bundle: %v", err)
	}
	if _, err := Load(Source{SelfSigned: true}); err != nil {
		t.Errorf("self-signed: %v", err)
	}
	if _, err := Load(Source{}); !errors.Is(err, ErrNoCertificate) {
		t.Errorf("empty source err = %v", err)
	}
	if (Source{}).Configured() || !(Source{SelfSigned: true}).Configured() {
		t.Error("Configured wrong")
	}
	if _, err := Load(Source{CertFile: filepath.Join(dir, "missing.pem")}); err == nil {
		t.Error("missing file loaded")
	}
}

func TestDecodePFXRejectsGarbage(t *testing.T) {
	if _, err := DecodePFX([]byte("not a pfx"), "pw"); err == nil {
		t.Fatal("garbage decoded")
	}
	path := filepath.Join(t.TempDir(), "x.pfx")
	os.WriteFile(path, []byte{0x30, 0x03, 0x02, 0x01, 0x03}, 0600)
	if _, err := LoadPFX(path, ""); err == nil {
		t.Fatal("truncated pfx decoded")
	}
}

func TestServerConfig(t *testing.T) {
	certPEM, keyPEM, _ := SelfSigned(nil, time.Now(), time.Hour)
	cert, _ := tls.X509KeyPair(certPEM, keyPEM)
	cfg := ServerConfig(cert, "ticketgate")
	if cfg.MinVersion != tls.VersionTLS12 || len(cfg.Certificates) != 1 || cfg.NextProtos[0] != "ticketgate" {
		t.Fatalf("config = %+v", cfg)
	}
}
