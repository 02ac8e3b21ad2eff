package llm

import (
	"context"
	"fmt"
	"log/slog"

	"prismatic/internal/domain"
	"prismatic/internal/infra/config"
)

// New builds the responder selected by cfg.Type.
func New(ctx context.Context, cfg config.ResponderConfig, logger *slog.Logger) (domain.Responder, error) {
	switch cfg.Type {
	case "echo", "":
		return NewEchoResponder(cfg.EchoDelay, logger), nil
	case "bedrock":
		r, err := NewBedrockResponder(ctx, cfg, logger)
		if err != nil {
			return nil, domain.NewDomainError("llm.New", domain.ErrConfigLoad, err.Error())
		}
		return r, nil
	default:
		return nil, domain.NewDomainError("llm.New", domain.ErrInvalidInput, fmt.Sprintf("unknown responder type %q", cfg.Type))
	}
}
