package llm

import (
	"context"
	"fmt"
)

// GitHubProvider talks to the GitHub Models inference API, which speaks the
// OpenAI chat-completions dialect and authenticates with a GitHub personal
// access token.
type GitHubProvider struct {
	baseProvider
}

// NewGitHubProvider creates a new GitHub Models provider.
func NewGitHubProvider(cfg *ProviderConfig) *GitHubProvider {
	return &GitHubProvider{
		baseProvider: newBaseProvider(cfg, "github"),
	}
}

// Chat sends a chat request to GitHub Models.
func (p *GitHubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("GitHub token not configured")
	}
	return p.completeChat(ctx, req, "GitHub Models")
}
