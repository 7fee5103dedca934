package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type options struct {
	client SecretsManagerAPI
}

type Option func(*options)

// WithClient supplies the Secrets Manager client instead of creating one from
// the default AWS configuration.
func WithClient(client SecretsManagerAPI) Option {
	return func(o *options) {
		o.client = client
	}
}

// Resolve reads a plain-text secret from AWS Secrets Manager. The secret ID
// may be an ARN or a secret name.
func Resolve(ctx context.Context, secretID string, opts ...Option) (string, error) {
	if secretID == "" {
		return "", fmt.Errorf("secret ID is empty")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return "", fmt.Errorf("loading AWS config: %w", err)
		}
		o.client = secretsmanager.NewFromConfig(cfg)
	}

	result, err := o.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", secretID, err)
	}

	if result.SecretString == nil || *result.SecretString == "" {
		return "", fmt.Errorf("secret %q has no string value", secretID)
	}

	return *result.SecretString, nil
}
