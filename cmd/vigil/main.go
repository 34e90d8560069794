package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/khoste/vigil/agent"
	"github.com/khoste/vigil/agent/acp"
	"github.com/khoste/vigil/agent/terminal"
	"github.com/khoste/vigil/config"
	"github.com/khoste/vigil/executor"
	"github.com/khoste/vigil/interrupt"
	"github.com/khoste/vigil/llm"
	"github.com/khoste/vigil/logging"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
	"github.com/spf13/cobra"
)

var (
	modeFlag          string
	sessionFlag       string
	toolsetFlag       string
	resumeFlag        string
	toolVerbosityFlag string
	acpFlag           bool
	traceFlag         bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vigil [prompt]",
		Short: "Interactive terminal coding agent",
		Long: "Vigil is an interactive coding agent. It talks to the configured model\n" +
			"providers, runs tools on your behalf, and keeps a persistent session history.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), strings.Join(args, " "))
		},
	}

	rootCmd.Flags().StringVarP(&modeFlag, "mode", "m", "", "Execution mode: 'auto' or 'prompt'")
	rootCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session name to create or use")
	rootCmd.Flags().StringVarP(&toolsetFlag, "toolset", "t", "", "Toolset to use (defaults to 'default')")
	rootCmd.Flags().StringVarP(&resumeFlag, "resume", "r", "", "Resume a session by name")
	rootCmd.Flags().StringVar(&toolVerbosityFlag, "tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	rootCmd.Flags().BoolVar(&acpFlag, "acp", false, "Enable Agent Client Protocol support")
	rootCmd.Flags().BoolVar(&traceFlag, "trace", false, "Enable execution tracing to troubleshoot issues")

	rootCmd.AddCommand(probeCmd(), providersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, initialPrompt string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if err := logging.Init(filepath.Join(".vigil", "logs"), false, traceFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	defer logging.Close()

	var sess *session.Session
	sessionName := sessionFlag

	if resumeFlag != "" {
		sessionName = resumeFlag
		sess, err = session.Load(sessionName)
		if err != nil {
			return err
		}
		fmt.Printf("Resuming session: %s\n", sessionName)
		// Apply session flags if not explicitly overridden by user.
		if modeFlag == "" && sess.Mode != "" {
			modeFlag = sess.Mode
		}
		if toolsetFlag == "" && sess.Toolset != "" {
			toolsetFlag = sess.Toolset
		}
		if toolVerbosityFlag == "" && sess.ToolVerbosity != "" {
			toolVerbosityFlag = sess.ToolVerbosity
		}
	} else {
		if sessionName == "" {
			sessionName = defaultSessionName()
		}
		sess, err = session.New(sessionName)
		if err != nil {
			return err
		}
		fmt.Printf("Starting new session: %s\n", sessionName)
	}

	if modeFlag == "" {
		modeFlag = "prompt"
	}
	if toolsetFlag == "" {
		toolsetFlag = "default"
	}
	if toolVerbosityFlag == "" {
		toolVerbosityFlag = "none"
	}

	sess.Mode = modeFlag
	sess.Toolset = toolsetFlag
	sess.ToolVerbosity = toolVerbosityFlag
	sess.Acp = acpFlag
	if err := sess.Save(); err != nil {
		return err
	}

	var opMode agent.Mode
	switch modeFlag {
	case "auto":
		opMode = agent.ModeAuto
	case "prompt":
		opMode = agent.ModePrompt
	default:
		return fmt.Errorf("invalid mode '%s', must be 'auto' or 'prompt'", modeFlag)
	}

	var verbosity agent.ToolVerbosity
	switch toolVerbosityFlag {
	case "none":
		verbosity = agent.ToolVerbosityNone
	case "info":
		verbosity = agent.ToolVerbosityInfo
	case "all":
		verbosity = agent.ToolVerbosityAll
	default:
		return fmt.Errorf("invalid tool verbosity '%s', must be 'none', 'info', or 'all'", toolVerbosityFlag)
	}

	failover, err := buildFailover(ctx, cfg)
	if err != nil {
		return err
	}

	exec := executor.New(cfg.Executor.MaxOutputBytes)
	registry := tools.NewToolRegistry(cfg, exec)
	defer registry.Close()

	interrupts := interrupt.New()
	stopSignals := interrupts.NotifyOnSIGINT()
	defer stopSignals()

	vigilAgent, err := agent.New(cfg, sess, toolsetFlag, opMode, verbosity, failover, registry, interrupts)
	if err != nil {
		return err
	}
	vigilAgent.Summarize = failover.Summarize

	if acpFlag {
		in := bufio.NewReader(os.Stdin)
		out := bufio.NewWriter(os.Stdout)
		return acp.Run(ctx, vigilAgent, in, out, &traceFlag)
	}

	fmt.Println("Vigil is ready. Type your prompt.")
	term := terminal.New(vigilAgent)
	return term.Run(ctx, initialPrompt)
}

// buildFailover constructs the provider stack. With no providers
// configured it falls back to the mock provider so the binary stays
// usable for a dry run.
func buildFailover(ctx context.Context, cfg *config.Config) (*llm.Failover, error) {
	if len(cfg.Providers) == 0 {
		fmt.Println("No providers configured; using the mock provider.")
		cfg.Providers = []config.Provider{{Name: "mock"}}
	}
	return llm.NewFailover(ctx, cfg, llm.NewInstrumentation(nil))
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <provider>",
		Short: "Send a trivial completion to one provider and report the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			failover, err := buildFailover(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			name := args[0]
			if err := failover.Probe(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Printf("Provider '%s' is reachable.\n", name)
			return nil
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			failover, err := buildFailover(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			for _, name := range failover.AvailableProviders() {
				snap, _ := failover.Metrics(name)
				fmt.Printf("%-12s status=%s success=%d failed=%d\n",
					name, snap.Status, snap.Success, snap.Failed)
			}
			return nil
		},
	}
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "vigil"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
