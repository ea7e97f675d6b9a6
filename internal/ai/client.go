package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/compliance"
	"github.com/complyforge/complyforge/internal/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client is an HTTP Service implementation against an OpenAI-compatible
// chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a text-generation client from configuration. The API key
// is read from the env var named in cfg.APIKeyEnv.
func NewClient(cfg config.AIConfig, logger *zap.Logger) (*Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("AI API key not found in env var: %s", cfg.APIKeyEnv)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

// Available reports that the client is configured.
func (c *Client) Available() bool { return true }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateScript produces a remediation script for the finding.
func (c *Client) GenerateScript(ctx context.Context, finding compliance.Finding, dialect string) (string, error) {
	prompt := fmt.Sprintf(
		"Write a %s script that remediates the following cloud compliance violation. "+
			"Output only the script, no prose.\n\nResource: %s (%s)\nControls: %s\nViolation: %s\nDetails: %s",
		dialect, finding.ResourceID, finding.ResourceType,
		strings.Join(finding.ControlIDs, ", "), finding.Title, finding.Description,
	)

	out, err := c.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generating remediation script: %w", err)
	}
	return stripCodeFence(out), nil
}

// GenerateGuidance produces a natural-language remediation explanation.
func (c *Client) GenerateGuidance(ctx context.Context, finding compliance.Finding) (string, error) {
	prompt := fmt.Sprintf(
		"Explain, as numbered steps for a cloud operator, how to manually remediate this compliance violation.\n\n"+
			"Resource: %s (%s)\nControls: %s\nViolation: %s\nDetails: %s",
		finding.ResourceID, finding.ResourceType,
		strings.Join(finding.ControlIDs, ", "), finding.Title, finding.Description,
	)

	out, err := c.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generating remediation guidance: %w", err)
	}
	return out, nil
}

// PrioritizeWithContext asks the model to rank finding IDs given business
// context. IDs missing from the model output are appended in input order so
// the result always covers every finding.
func (c *Client) PrioritizeWithContext(ctx context.Context, findings []compliance.Finding, businessContext string) ([]string, error) {
	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "- %s: [%s] %s on %s\n", f.ID, f.Severity, f.Title, f.ResourceID)
	}
	prompt := fmt.Sprintf(
		"Given the business context below, rank these compliance findings from most to least urgent. "+
			"Output one finding ID per line, nothing else.\n\nContext: %s\n\nFindings:\n%s",
		businessContext, sb.String(),
	)

	out, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("prioritizing findings: %w", err)
	}

	known := make(map[string]bool, len(findings))
	for _, f := range findings {
		known[f.ID] = true
	}

	var ranked []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		id := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if known[id] && !seen[id] {
			ranked = append(ranked, id)
			seen[id] = true
		}
	}
	for _, f := range findings {
		if !seen[f.ID] {
			ranked = append(ranked, f.ID)
		}
	}
	return ranked, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
