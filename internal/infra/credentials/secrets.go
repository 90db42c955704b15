package credentials

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretSource reads secret payloads by name.
type SecretSource interface {
	Access(ctx context.Context, name string) (string, error)
}

// SecretManager reads secrets from Google Secret Manager.
type SecretManager struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManager(ctx context.Context, projectID string) (*SecretManager, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("secret manager: GCP project id is not set")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secret manager: create client: %w", err)
	}
	return &SecretManager{client: client, projectID: projectID}, nil
}

// Access returns the payload of name. Short names resolve to the latest
// version in the configured project.
func (s *SecretManager) Access(ctx context.Context, name string) (string, error) {
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: ResourceName(s.projectID, name),
	})
	if err != nil {
		return "", fmt.Errorf("secret manager: access %s: %w", name, err)
	}
	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (s *SecretManager) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ResourceName expands a short secret name into a full version resource.
func ResourceName(projectID, name string) string {
	if strings.HasPrefix(name, "projects/") {
		if strings.Contains(name, "/versions/") {
			return name
		}
		return name + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
}
