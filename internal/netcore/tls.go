package netcore

import (
	"crypto/x509"
	"fmt"
)

// BuildRootCAs decodes a PEM-encoded root certificate into a pool used for
// both the REST Worker's HTTPS client and the WebSocket Session's TLS dial.
// There is no system trust store fallback: a pool that fails to parse any
// certificate is a construction-time failure, by design.
func BuildRootCAs(pemData []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("no certificates parsed from root certificate PEM")
	}
	return pool, nil
}
