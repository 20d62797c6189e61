package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/inquest/pkg/agent"
	"github.com/entrhq/inquest/pkg/agent/memory"
	"github.com/entrhq/inquest/pkg/agent/tools"
	"github.com/entrhq/inquest/pkg/config"
	"github.com/entrhq/inquest/pkg/llm/openai"
	"github.com/entrhq/inquest/pkg/types"
)

var (
	version = "0.1.0"

	cfgFile       string
	model         string
	maxIterations int
	approveAll    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inquest [question]",
		Short: "Tool-orchestrating research agent",
		Long: `Inquest answers research questions by iteratively calling data-retrieval
tools, persisting every result, and streaming a final answer synthesized
from the retrieved data.`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.inquest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model to use (overrides config)")
	rootCmd.PersistentFlags().IntVar(&maxIterations, "max-iterations", 0, "cap on thinking steps per run (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&approveAll, "yes", false, "approve all sensitive tool calls without prompting")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("inquest version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if model != "" {
		cfg.Model = model
	}
	if maxIterations > 0 {
		cfg.MaxIterations = maxIterations
	}

	memoryDir, err := cfg.ResolveMemoryDir()
	if err != nil {
		return err
	}
	blobs, err := memory.NewDirStore(memoryDir)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}

	providerOpts := []openai.ProviderOption{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	provider, err := openai.NewProvider("", providerOpts...)
	if err != nil {
		return err
	}

	store := memory.NewStore(blobs, provider)
	registry := tools.NewRegistry()

	autoApprove := cfg.AutoApprove
	if approveAll {
		autoApprove = append(autoApprove, "*")
	}

	orchestrator := agent.New(provider, registry, store,
		agent.WithMaxIterations(cfg.MaxIterations),
		agent.WithWallClockBudget(cfg.WallClockBudget.Std()),
		agent.WithApprovalTimeout(cfg.ApprovalTimeout.Std()),
		agent.WithToolCallThreshold(cfg.ToolCallThreshold),
		agent.WithSimilarQueryThreshold(cfg.SimilarQueryThreshold),
		agent.WithClearThreshold(cfg.ClearThreshold),
		agent.WithSensitiveTools(cfg.SensitiveTools),
		agent.WithAutoApprove(autoApprove),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := orchestrator.Run(ctx, args[0], "")
	return printEvents(orchestrator, events)
}

// printEvents renders the run's event stream as plain text, prompting on
// stdin when a tool needs approval.
func printEvents(orchestrator *agent.Orchestrator, events <-chan *types.RunEvent) error {
	stdin := bufio.NewScanner(os.Stdin)

	for event := range events {
		switch event.Type {
		case types.EventTypeThinking:
			fmt.Printf("[thinking] %s\n", event.Content)
		case types.EventTypeToolStart:
			fmt.Printf("[tool] %s %v\n", event.ToolName, event.ToolInput)
		case types.EventTypeToolProgress:
			fmt.Printf("[tool] %s: %s\n", event.ToolName, event.Content)
		case types.EventTypeToolEnd:
			fmt.Printf("[tool] %s done in %s: %s\n", event.ToolName, event.Elapsed, event.Content)
		case types.EventTypeToolError:
			fmt.Printf("[tool] %s failed: %v\n", event.ToolName, event.Error)
		case types.EventTypeToolApproval:
			orchestrator.RespondToApproval(promptApproval(stdin, event))
		case types.EventTypeToolDenied:
			fmt.Printf("[tool] %s denied\n", event.ToolName)
		case types.EventTypeToolLimit:
			fmt.Printf("[limit] %s\n", event.Warning)
		case types.EventTypeContextCleared:
			fmt.Println("[context] older tool calls compacted")
		case types.EventTypeAnswerStart:
			fmt.Println()
		case types.EventTypeAnswerChunk:
			fmt.Print(event.Content)
		case types.EventTypeTokenUsage:
			// Per-call usage is folded into the run summary.
		case types.EventTypeDone:
			fmt.Println()
			if s := event.Summary; s != nil {
				fmt.Printf("[done] status=%s iterations=%d tools=%d elapsed=%s\n",
					s.Status, s.Iterations, s.ToolCalls, s.Elapsed)
			}
		case types.EventTypeError:
			return fmt.Errorf("run failed: %w", event.Error)
		}
	}
	return nil
}

func promptApproval(stdin *bufio.Scanner, event *types.RunEvent) *types.ApprovalResponse {
	fmt.Printf("[approval] allow tool %s with %v? [y]es / [a]ll session / [n]o: ", event.ToolName, event.ToolInput)

	decision := types.ApprovalDeny
	if stdin.Scan() {
		switch strings.ToLower(strings.TrimSpace(stdin.Text())) {
		case "y", "yes":
			decision = types.ApprovalAllowOnce
		case "a", "all":
			decision = types.ApprovalAllowSession
		}
	}
	return &types.ApprovalResponse{ApprovalID: event.ApprovalID, Decision: decision}
}
