package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/noah-isme/uni-onboarding-api/pkg/config"
)

const credentialBytes = 18

// GenerateCredential produces an opaque secret from a cryptographically
// strong source. Generated once per record and preserved across
// re-ingestion.
func GenerateCredential() (string, error) {
	buf := make([]byte, credentialBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DerivePrincipal computes the deterministic account name for a document
// number under the configured prefix.
func DerivePrincipal(snap config.Snapshot, documentNumber string) string {
	return snap.AccountPrefix + strings.TrimSpace(documentNumber)
}

// DeriveInstitutionalEmail computes the institutional address for a
// document number.
func DeriveInstitutionalEmail(snap config.Snapshot, documentNumber string) string {
	return DerivePrincipal(snap, documentNumber) + "@" + snap.AccountDomain
}
