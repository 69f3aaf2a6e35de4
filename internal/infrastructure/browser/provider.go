package browser

import (
	"fmt"
	"strings"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/infrastructure/browser/local"
	"github.com/dreschagin/link-preview/internal/infrastructure/browser/remote"
	"github.com/dreschagin/link-preview/internal/infrastructure/browser/serverless"
	"github.com/dreschagin/link-preview/pkg/logger"
)

type Config struct {
	Provider       string
	ExecutablePath string
	RemoteURL      string
	ExtraArgs      []string
}

// NewProvider выбирает реализацию BrowserProvider по имени
func NewProvider(config Config, log *logger.Logger) (port.BrowserProvider, error) {
	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "", local.Name:
		return local.NewProvider(local.Config{
			ExecutablePath: config.ExecutablePath,
			ExtraArgs:      config.ExtraArgs,
		}, log), nil
	case serverless.Name:
		return serverless.NewProvider(serverless.Config{
			ExecutablePath: config.ExecutablePath,
			ExtraArgs:      config.ExtraArgs,
		}, log)
	case remote.Name:
		return remote.NewProvider(remote.Config{
			RemoteURL:      config.RemoteURL,
			ExecutablePath: config.ExecutablePath,
		}, log), nil
	default:
		return nil, fmt.Errorf("unsupported browser provider: %s", config.Provider)
	}
}
