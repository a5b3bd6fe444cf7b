package domain

import "strings"

// DtlsRole determines which side initiates the DTLS handshake.
type DtlsRole string

const (
	DtlsRoleAuto   DtlsRole = "auto"
	DtlsRoleClient DtlsRole = "client"
	DtlsRoleServer DtlsRole = "server"
)

// FingerprintAlgorithms is the fixed set of accepted hash algorithms.
var FingerprintAlgorithms = []string{"sha-1", "sha-224", "sha-256", "sha-384", "sha-512"}

// DtlsFingerprint authenticates the remote certificate. Value is stored as
// lowercase hex and uppercased when exported to the engine.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// ExportValue returns the fingerprint value in the uppercase form engines
// expect on the wire.
func (f DtlsFingerprint) ExportValue() string {
	return strings.ToUpper(f.Value)
}

// DtlsParameters is the peer authentication material for a transport.
type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}
