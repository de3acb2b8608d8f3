package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/forgesmith/codeforge/internal/agentloop"
	"github.com/forgesmith/codeforge/internal/config"
	"github.com/forgesmith/codeforge/internal/conversation"
	"github.com/forgesmith/codeforge/internal/event"
	"github.com/forgesmith/codeforge/internal/provider"
	"github.com/forgesmith/codeforge/internal/session"
	"github.com/forgesmith/codeforge/internal/storage"
	"github.com/forgesmith/codeforge/internal/tool"
	"github.com/forgesmith/codeforge/pkg/types"
	"github.com/spf13/cobra"
)

var (
	runModel        string
	runAgent        string
	runContinue     bool
	runSession      string
	runFormat       string
	runFiles        []string
	runTitle        string
	runPrompt       string
	runPromptFile   string
	runPromptInline string
	runDir          string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Start an interactive CodeForge session",
	Long: `Start an interactive CodeForge session with the specified message.

Examples:
  codeforge run "Fix the bug in main.go"
  codeforge run --model anthropic/claude-sonnet-4 "Explain this code"
  codeforge run --continue  # Continue last session
  codeforge run --file main.go "Review this file"`,
	RunE: runInteractive,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "Agent to use")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the last session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json)")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach to message")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Session title")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "Custom prompt template")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "Custom prompt from file")
	runCmd.Flags().StringVar(&runPromptInline, "prompt-inline", "", "Custom prompt as inline text")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	// Determine working directory
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	// Initialize paths
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	// Load configuration
	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	// Override model if specified
	if runModel != "" {
		appConfig.Model = runModel
	}

	// Build message from args
	message := strings.Join(args, " ")
	if message == "" && !runContinue && runSession == "" {
		return fmt.Errorf("message required. Usage: codeforge run \"your message\"")
	}

	// Initialize storage
	store := storage.New(paths.StoragePath())

	// Initialize providers
	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	// Initialize tool registry
	toolReg := tool.DefaultRegistry(workDir, store)

	// Handle custom prompt
	var systemPrompt string
	if runPromptFile != "" {
		data, err := os.ReadFile(runPromptFile)
		if err != nil {
			return fmt.Errorf("failed to read prompt file: %w", err)
		}
		systemPrompt = string(data)
	} else if runPromptInline != "" {
		systemPrompt = runPromptInline
	} else if runPrompt != "" {
		// Try to read as file first, then use as inline
		if data, err := os.ReadFile(runPrompt); err == nil {
			systemPrompt = string(data)
		} else {
			systemPrompt = runPrompt
		}
	}

	// Handle file attachments - read and include in message
	var fileContent strings.Builder
	for _, file := range runFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", file, err)
		}
		fileContent.WriteString(fmt.Sprintf("\n\n--- File: %s ---\n%s", file, string(content)))
	}
	if fileContent.Len() > 0 {
		message = message + fileContent.String()
	}

	// Handle continue/session
	var sess *types.Session
	if runSession != "" {
		var loaded types.Session
		if err := store.Get(ctx, []string{"session", runSession}, &loaded); err != nil {
			return fmt.Errorf("session not found: %s", runSession)
		}
		sess = &loaded
	} else if runContinue {
		// List sessions and get the most recent
		sessions, err := store.List(ctx, []string{"session"})
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) > 0 {
			var loaded types.Session
			if err := store.Get(ctx, []string{"session", sessions[len(sessions)-1]}, &loaded); err != nil {
				return fmt.Errorf("failed to load session: %w", err)
			}
			sess = &loaded
		}
	}

	// Create session if not continuing
	if sess == nil {
		sess = &types.Session{
			ID:        fmt.Sprintf("sess_%d", os.Getpid()),
			Directory: workDir,
			Title:     runTitle,
			Time:      types.SessionTime{Created: time.Now().UnixMilli()},
		}
		if err := store.Put(ctx, []string{"session", sess.ID}, sess); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		event.PublishSync(event.Event{
			Type: event.SessionCreated,
			Data: event.SessionCreatedData{Info: sess},
		})
	}

	// Create the turn manager
	manager := session.NewManager(store, paths.SessionLogPath(), providerReg, toolReg, appConfig, event.Default())

	// Create agent configuration
	agentName := runAgent
	if agentName == "" {
		agentName = "default"
	}
	agentCfg := agentloop.DefaultAgent()
	agentCfg.Name = agentName
	agentCfg.Prompt = systemPrompt

	// Run the agentic loop
	fmt.Printf("Starting session %s...\n", sess.ID)
	fmt.Printf("Model: %s\n", appConfig.Model)
	fmt.Printf("Message: %s\n\n", truncate(message, 100))

	if err := manager.Start(ctx, sess); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	if err := manager.SetAgent(sess.ID, agentCfg); err != nil {
		return fmt.Errorf("failed to configure agent: %w", err)
	}

	if _, err := manager.Submit(ctx, sess, message); err != nil {
		return fmt.Errorf("processing error: %w", err)
	}

	msgs, _, err := manager.Snapshot(sess.ID)
	if err != nil {
		return fmt.Errorf("failed to read result: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.RoleAssistant {
			fmt.Print(msgs[i].Text)
			break
		}
	}

	fmt.Println()
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
