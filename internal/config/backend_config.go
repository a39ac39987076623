package config

import (
	"strconv"
	"strings"
)

const (
	backendURLEnvVar     = "NOTIFICA_BACKEND_URL"
	anonKeyEnvVar        = "NOTIFICA_ANON_KEY"
	userMgmtFnEnvVar     = "NOTIFICA_USER_MANAGEMENT_FUNCTION"
	verifyTokensEnvVar   = "NOTIFICA_VERIFY_TOKENS"
	documentsBucketEnvVr = "NOTIFICA_DOCUMENTS_BUCKET"
)

type BackendConfig interface {
	GetBackendURL() string
	GetAnonKey() string
	GetFunctionsURL() string
	GetUserManagementFunction() string
	GetJWKSURL() string
	GetVerifyTokens() bool
	GetDocumentsBucket() string
}

type Backend struct {
	values fileValues
}

var _ BackendConfig = Backend{}

// GetBackendURL returns the project URL of the hosted backend, without a
// trailing slash.
func (b Backend) GetBackendURL() string {
	return strings.TrimRight(b.values.get(backendURLEnvVar, ""), "/")
}

// GetAnonKey returns the public (anon) API key. Data protection relies on the
// backend's row-level security, not on this key being secret.
func (b Backend) GetAnonKey() string {
	return b.values.get(anonKeyEnvVar, "")
}

func (b Backend) GetFunctionsURL() string {
	return b.GetBackendURL() + "/functions/v1"
}

func (b Backend) GetUserManagementFunction() string {
	return b.values.get(userMgmtFnEnvVar, "smart-service")
}

func (b Backend) GetJWKSURL() string {
	return b.GetBackendURL() + "/auth/v1/.well-known/jwks.json"
}

func (b Backend) GetVerifyTokens() bool {
	v, err := strconv.ParseBool(b.values.get(verifyTokensEnvVar, "false"))
	return err == nil && v
}

func (b Backend) GetDocumentsBucket() string {
	return b.values.get(documentsBucketEnvVr, "documentos")
}
