package tunnel

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// BuildCertificate generates a minimally-sufficient self-signed
// certificate and private key (PEM-encoded) good for every hostname in
// hostnames as a SAN -- IP-shaped entries become IP SANs, everything
// else becomes a DNS SAN. The first non-IP hostname becomes the
// certificate's CommonName, falling back to the first IP when every
// hostname is one. It is the Go port of kopf's
// WebhookServer.build_certificate, using crypto/x509 in place of
// certbuilder/oscrypto (an optional, dev-only extra in the original;
// no equivalent third-party certificate builder is available to this
// module, so the standard library is the natural, dependency-free
// substitute for what was already an opt-in convenience there).
func BuildCertificate(hostnames []string) (certPEM, keyPEM []byte, err error) {
	var dnsNames []string
	var ipAddrs []net.IP
	seen := map[string]bool{}
	for _, h := range hostnames {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if ip := net.ParseIP(h); ip != nil && !ip.IsUnspecified() {
			ipAddrs = append(ipAddrs, ip)
		} else if ip == nil {
			dnsNames = append(dnsNames, h)
		}
	}

	commonName := ""
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else if len(ipAddrs) > 0 {
		commonName = ipAddrs[0].String()
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("generating private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generating serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("signing certificate: %w", err)
	}

	certBuf := &bytes.Buffer{}
	if err := pem.Encode(certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return nil, nil, err
	}
	keyBuf := &bytes.Buffer{}
	if err := pem.Encode(keyBuf, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		return nil, nil, err
	}
	return certBuf.Bytes(), keyBuf.Bytes(), nil
}

func readPEMFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
