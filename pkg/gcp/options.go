package gcp

import (
	"strings"

	"google.golang.org/api/option"

	"github.com/angelmondragon/comercio-backoffice/pkg/config"
)

// ClientOptions derives the credential options shared by the GCP clients.
// With nothing configured the clients fall back to application default
// credentials.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	opts := []option.ClientOption{}
	if creds := strings.TrimSpace(cfg.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithAuthCredentialsJSON(option.ServiceAccount, []byte(creds)))
	} else if path := strings.TrimSpace(cfg.ApplicationCredentials); path != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, path))
	}
	return opts
}
