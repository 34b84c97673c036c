package detector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ppiankov/gatewatch/internal/model"
)

// BedrockConfig holds parameters for the Bedrock-backed deep-analysis tier.
// AccessKey/SecretKey are optional; when empty the default AWS credential
// chain applies.
type BedrockConfig struct {
	Region    string `yaml:"region"`
	ModelID   string `yaml:"model_id"`
	MaxTokens int    `yaml:"max_tokens"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Bedrock is a deep-analysis tier calling an Anthropic model on AWS Bedrock.
// Same verdict contract as the OpenAI-compatible tier.
type Bedrock struct {
	cfg    BedrockConfig
	client *bedrockruntime.Client
}

// NewBedrock builds the Bedrock client. Credential resolution happens here,
// not per request.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock: model_id is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &Bedrock{
		cfg:    cfg,
		client: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

func (b *Bedrock) Name() string    { return "bedrock" }
func (b *Bedrock) Version() string { return b.cfg.ModelID }

// anthropicResponse is the subset of the messages API response we read.
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (b *Bedrock) Analyze(ctx context.Context, fv *model.FeatureVector) (Signal, error) {
	body, _ := json.Marshal(map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        b.cfg.MaxTokens,
		"system":            llmSystemPrompt,
		"temperature":       0,
		"messages": []map[string]any{
			{"role": "user", "content": renderEvidence(fv)},
		},
	})

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.cfg.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return Signal{}, fmt.Errorf("bedrock invoke: %w", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return Signal{}, fmt.Errorf("bedrock response: %w", err)
	}
	for _, c := range resp.Content {
		if c.Type == "text" {
			return parseVerdict(c.Text)
		}
	}
	return Signal{}, fmt.Errorf("bedrock response: no text content")
}
