package assistant

import (
	"github.com/divetrail/concierge/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.assistant",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.AssistantEndpoint == "" {
		return &NoOpProvider{}
	}
	return NewHTTP(Config{
		Endpoint: cfg.AssistantEndpoint,
		APIKey:   cfg.AssistantAPIKey,
		Model:    cfg.AssistantModel,
	})
}
