package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"prismatic/internal/domain"
	"prismatic/internal/infra/config"
	"prismatic/internal/infra/tracer"
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// converseEventReader is the part of *bedrockruntime.ConverseStreamEventStream
// the responder reads from.
type converseEventReader interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// BedrockResponder answers chat requests with the AWS Bedrock Converse API.
type BedrockResponder struct {
	model        string
	maxTokens    int
	temperature  float64
	systemPrompt string
	client       bedrockConverseAPI
	logger       *slog.Logger
}

// NewBedrockResponder creates a responder using the default AWS credential chain.
func NewBedrockResponder(ctx context.Context, cfg config.ResponderConfig, logger *slog.Logger) (*BedrockResponder, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newBedrockResponderWithClient(cfg, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

// newBedrockResponderWithClient creates a BedrockResponder with an injected client (for testing).
func newBedrockResponderWithClient(cfg config.ResponderConfig, client bedrockConverseAPI, logger *slog.Logger) *BedrockResponder {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = config.DefaultSystemPrompt
	}
	return &BedrockResponder{
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: prompt,
		client:       client,
		logger:       logger,
	}
}

// Respond implements domain.Responder via ConverseStream.
func (p *BedrockResponder) Respond(ctx context.Context, req domain.ChatRequest, emit func(domain.StreamEvent) error) error {
	ctx, span := tracer.StartSpan(ctx, "llm.respond",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.Name()),
			tracer.StringAttr("llm.model", p.model),
		),
	)

	ci := p.converseInput(req)
	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         ci.ModelId,
		Messages:        ci.Messages,
		System:          ci.System,
		InferenceConfig: ci.InferenceConfig,
	})
	if err != nil {
		err = mapBedrockError(err)
		tracer.Finish(span, err)
		return err
	}

	n, err := pumpConverseStream(ctx, output.GetStream(), emit)
	span.SetAttributes(tracer.IntAttr("llm.fragments", n))
	tracer.Finish(span, err)
	if err == nil {
		p.logger.Debug("bedrock stream completed", "model", p.model, "fragments", n)
	}
	return err
}

// Complete implements domain.Responder via Converse.
func (p *BedrockResponder) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.Name()),
			tracer.StringAttr("llm.model", p.model),
		),
	)

	output, err := p.client.Converse(ctx, p.converseInput(req))
	if err != nil {
		err = mapBedrockError(err)
		tracer.Finish(span, err)
		return "", err
	}

	text := converseOutputText(output)
	if output.Usage != nil {
		span.SetAttributes(
			tracer.IntAttr("llm.prompt_tokens", int(aws.ToInt32(output.Usage.InputTokens))),
			tracer.IntAttr("llm.completion_tokens", int(aws.ToInt32(output.Usage.OutputTokens))),
		)
	}
	tracer.Finish(span, nil)
	p.logger.Debug("bedrock completion", "model", p.model, "chars", len(text))
	return text, nil
}

// Name implements domain.Responder.
func (p *BedrockResponder) Name() string { return "bedrock" }

// --- Bedrock request/response conversion ---

func (p *BedrockResponder) converseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	maxTokens := p.maxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: toBedrockMessages(req),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: renderSystemPrompt(p.systemPrompt, req.Diagnosis)},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if p.temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(p.temperature))
	}
	return input
}

func renderSystemPrompt(tmpl, diagnosis string) string {
	return strings.ReplaceAll(tmpl, "{{diagnosis}}", diagnosis)
}

// toBedrockMessages converts the history plus the new message into Converse
// messages. Converse requires the conversation to open with a user turn and
// to alternate roles, so leading assistant turns are dropped and consecutive
// turns of one role are merged.
func toBedrockMessages(req domain.ChatRequest) []types.Message {
	turns := append(append([]domain.ConversationTurn(nil), req.History...), domain.UserTurn(req.Message))

	var msgs []types.Message
	var lastRole types.ConversationRole
	for _, t := range turns {
		var role types.ConversationRole
		switch t.Role {
		case domain.RoleUser:
			role = types.ConversationRoleUser
		case domain.RoleAssistant:
			role = types.ConversationRoleAssistant
		default:
			continue
		}
		if len(msgs) == 0 && role != types.ConversationRoleUser {
			continue
		}
		if len(msgs) > 0 && role == lastRole {
			last := &msgs[len(msgs)-1]
			last.Content = append(last.Content, &types.ContentBlockMemberText{Value: t.Content})
			continue
		}
		msgs = append(msgs, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: t.Content}},
		})
		lastRole = role
	}
	return msgs
}

func converseOutputText(output *bedrockruntime.ConverseOutput) string {
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if b, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(b.Value)
		}
	}
	return sb.String()
}

// pumpConverseStream emits every text delta from stream until the message
// stops, the stream ends, or ctx is cancelled. It returns the number of
// fragments emitted.
func pumpConverseStream(ctx context.Context, stream converseEventReader, emit func(domain.StreamEvent) error) (int, error) {
	defer stream.Close()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case evt, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return n, mapBedrockError(err)
				}
				return n, nil
			}
			text, stop := processBedrockStreamEvent(evt)
			if text != "" {
				if err := emit(domain.TextFragment(text)); err != nil {
					return n, err
				}
				n++
			}
			if stop {
				return n, nil
			}
		}
	}
}

// processBedrockStreamEvent extracts the text of a content delta and reports
// whether evt ends the message.
func processBedrockStreamEvent(evt types.ConverseStreamOutput) (string, bool) {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return d.Value, false
		}
	case *types.ConverseStreamOutputMemberMessageStop:
		return "", true
	}
	return "", false
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case "ValidationException":
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, msg)
		case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException",
			"ModelTimeoutException", "ModelStreamErrorException":
			return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}

var _ domain.Responder = (*BedrockResponder)(nil)
