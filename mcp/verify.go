package mcp

import (
	"context"
	"fmt"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// VerificationReport summarizes what a server exposes. Resource and prompt
// listing are optional for servers, so their failures are recorded rather
// than returned.
type VerificationReport struct {
	Server       string
	ServerInfo   mcptypes.Implementation
	Tools        []ToolDefinition
	Resources    []mcptypes.Resource
	ResourcesErr error
	Prompts      []mcptypes.Prompt
	PromptsErr   error
	Elapsed      time.Duration
}

type serverInfoer interface {
	ServerInfo() mcptypes.Implementation
}

// VerifyServer connects to name and lists its tools, resources and prompts.
func (m *Manager) VerifyServer(ctx context.Context, name string) (*VerificationReport, error) {
	start := time.Now()

	client, err := m.ConnectToServer(ctx, name)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{Server: name}
	if si, ok := client.(serverInfoer); ok {
		report.ServerInfo = si.ServerInfo()
	}

	report.Tools, err = client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", name, err)
	}
	m.registry.Publish(name, report.Tools)
	report.Tools, _ = m.registry.Tools(name)

	report.Resources, report.ResourcesErr = client.ListResources(ctx)
	report.Prompts, report.PromptsErr = client.ListPrompts(ctx)
	report.Elapsed = time.Since(start)

	m.log.Info().
		Str("server", name).
		Int("tools", len(report.Tools)).
		Int("resources", len(report.Resources)).
		Int("prompts", len(report.Prompts)).
		Dur("elapsed", report.Elapsed).
		Msg("verified")

	return report, nil
}
