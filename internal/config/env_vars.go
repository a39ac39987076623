package config

import (
	"strings"
)

const (
	envEnvVar       = "NOTIFICA_ENV"
	portEnvVar      = "NOTIFICA_PORT"
	appNameVar      = "NOTIFICA_APP_NAME"
	publicURLEnvVar = "NOTIFICA_PUBLIC_URL"
	logLevelEnvVar  = "NOTIFICA_LOG_LEVEL"
)

type EnvVars struct {
	values fileValues
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetEnv() string {
	return strings.ToUpper(e.values.get(envEnvVar, "DEV"))
}

func (e EnvVars) GetAppName() string {
	return e.values.get(appNameVar, "Notifica ETE")
}

func (e EnvVars) GetPort() string {
	port := e.values.get(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

// GetPublicURL returns the origin the guardian portal and password pages are
// served from (e.g. "https://notifica.example.com"). Links sent to guardians
// and redirect URLs for auth emails are built from it.
func (e EnvVars) GetPublicURL() string {
	return strings.TrimRight(e.values.get(publicURLEnvVar, "http://localhost:8080"), "/")
}

func (e EnvVars) GetLogLevel() string {
	return e.values.get(logLevelEnvVar, "info")
}
