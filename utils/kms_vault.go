package utils

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Vault is the envelope-encryption capability for wallet secrets. Kept to two
// methods so the backend (KMS, HSM, local key) can be swapped without
// touching the orchestrator.
type Vault interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, envelope string) (string, error)
}

// KMSVault implements Vault on AWS KMS. Envelopes are base64-encoded KMS
// ciphertext blobs.
type KMSVault struct {
	client *kms.Client
	keyID  string
}

// NewKMSVault builds the KMS client. accessKeyID/secret may be empty, in
// which case the default credential chain is used.
func NewKMSVault(ctx context.Context, region, keyID, accessKeyID, secretAccessKey string) (*KMSVault, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load KMS config: %w", err)
	}

	return &KMSVault{client: kms.NewFromConfig(cfg), keyID: keyID}, nil
}

func (v *KMSVault) Encrypt(ctx context.Context, plaintext string) (string, error) {
	out, err := v.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(v.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

func (v *KMSVault) Decrypt(ctx context.Context, envelope string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("invalid secret envelope: %w", err)
	}

	out, err := v.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(v.keyID),
		CiphertextBlob: blob,
	})
	if err != nil {
		return "", fmt.Errorf("kms decrypt failed: %w", err)
	}
	return string(out.Plaintext), nil
}
