// Package tcert loads or creates the certificate the service presents to
// local clients.
package tcert

import (
	"bytes"
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
	"time"

	"golang.org/x/crypto/pkcs12"
)

// ErrNoCertificate is returned when Source names no certificate.
var ErrNoCertificate = errors.New("tcert: no certificate configured")

// Source says where the certificate comes from. The first configured of
// PFXFile, CertFile/KeyFile and SelfSigned is used.
type Source struct {
	CertFile    string
	KeyFile     string
	PFXFile     string
	PFXPassword string

	// SelfSigned creates a throwaway certificate for Hosts.
	SelfSigned bool
	Hosts      []string
}

// Configured reports whether any source is set.
func (s Source) Configured() bool {
	return s.PFXFile != "" || s.CertFile != "" || s.SelfSigned
}

// Load returns the certificate described by s.
func Load(s Source) (tls.Certificate, error) {
	switch {
	case s.PFXFile != "":
		return LoadPFX(s.PFXFile, s.PFXPassword)
	case s.CertFile != "":
		return LoadPEM(s.CertFile, s.KeyFile)
	case s.SelfSigned:
		certPEM, keyPEM, err := SelfSigned(s.Hosts, time.Now(), 365*24*time.Hour)
		if err != nil {
			return tls.Certificate{}, err
		}
		return tls.X509KeyPair(certPEM, keyPEM)
	}
	return tls.Certificate{}, ErrNoCertificate
}

// LoadPEM reads a PEM certificate chain and key. keyFile may be empty when
// the key is in certFile.
func LoadPEM(certFile, keyFile string) (tls.Certificate, error) {
	if keyFile == "" {
		keyFile = certFile
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tcert: load %s: %w", certFile, err)
	}
	return cert, nil
}

// LoadPFX reads a PKCS#12 file such as one exported from the Windows
// certificate store.
func LoadPFX(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tcert: %w", err)
	}
	return DecodePFX(data, password)
}

// DecodePFX converts PKCS#12 data, including any chain, to a certificate.
func DecodePFX(data []byte, password string) (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tcert: decode pfx: %w", err)
	}
	var certPEM, keyPEM bytes.Buffer
	for _, b := range blocks {
		// Bag attributes are not valid PEM headers for the tls package.
		b.Headers = nil
		switch b.Type {
		case "CERTIFICATE":
			pem.Encode(&certPEM, b)
		case "PRIVATE KEY":
			pem.Encode(&keyPEM, b)
		}
	}
	if certPEM.Len() == 0 || keyPEM.Len() == 0 {
		return tls.Certificate{}, errors.New("tcert: pfx must hold a certificate and its key")
	}
	return tls.X509KeyPair(certPEM.Bytes(), keyPEM.Bytes())
}

func randomSerialNumber() (*big.Int, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	b[0] &= 0x7F
	return new(big.Int).SetBytes(b), nil
}

// SelfSigned creates a P-256 server certificate for hosts, valid from an
// hour before now. With no hosts it covers localhost and the loopback
// addresses.
func SelfSigned(hosts []string, now time.Time, validFor time.Duration) (certPEM, keyPEM []byte, err error) {
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := randomSerialNumber()
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hosts[0], Organization: []string{"ticketgate"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// ServerConfig returns a TLS 1.2+ server configuration presenting cert.
func ServerConfig(cert tls.Certificate, nextProtos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   nextProtos,
	}
}
