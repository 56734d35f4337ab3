package orchctl

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// buildRootCmd is a convenience for help-only fallbacks.
func buildRootCmd() *cobra.Command { return buildRootCmdWith(&Config{Addr: ":8090", LogLvl: "info"}) }

// buildRootCmdWith constructs the Cobra command tree wired to a Client.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "orchctl",
		Short:         "Control a running orchd instance over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> Config
	root.PersistentFlags().String("addr", cfg.Addr, "orchd address (defaults ORCHD_ADDR or :8090)")
	root.PersistentFlags().String("log-level", cfg.LogLvl, "Log level: debug|info|warn|error (defaults ORCHCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.InheritedFlags().Lookup("addr"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.Addr = v
			}
		}
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.LogLvl = v
			}
		}
		SetLogLevel(cfg.LogLvl)
		debug("[orchctl] using orchd at %s", cfg.Addr)
	}
	client := func() *Client { return NewClient(cfg.Addr) }

	printJSON := func(raw []byte) {
		var buf any
		if err := json.Unmarshal(raw, &buf); err == nil {
			if pretty, err := json.MarshalIndent(buf, "", "  "); err == nil {
				fmt.Println(string(pretty))
				return
			}
		}
		fmt.Println(string(raw))
	}

	// plan group
	planCmd := &cobra.Command{Use: "plan", Short: "Submit and inspect plans", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("plan requires a subcommand: submit|show|correct")
	}}
	planSubmit := &cobra.Command{Use: "submit <plan.json>", Short: "Submit a plan file", Example: "  orchctl plan submit plan.json", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().SubmitPlan(args[0]); err != nil {
			return err
		}
		info("[orchctl] plan accepted: %s", args[0])
		return nil
	}}
	planShow := &cobra.Command{Use: "show", Short: "Print the current task snapshot", RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := client().Plan()
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	}}
	planCorrect := &cobra.Command{Use: "correct <correction.json>", Short: "Apply a plan correction file", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().SubmitCorrection(args[0]); err != nil {
			return err
		}
		info("[orchctl] correction accepted: %s", args[0])
		return nil
	}}
	planCmd.AddCommand(planSubmit, planShow, planCorrect)
	root.AddCommand(planCmd)

	// task group
	taskCmd := &cobra.Command{Use: "task", Short: "Report task outcomes", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("task requires a subcommand: ok|fail")
	}}
	taskOK := &cobra.Command{Use: "ok <id>", Short: "Mark a task complete", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("task id must be numeric: %s", args[0])
		}
		return client().ReportResult(id, true, "")
	}}
	taskFail := &cobra.Command{Use: "fail <id> [reason]", Short: "Mark a task failed", Args: cobra.MinimumNArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("task id must be numeric: %s", args[0])
		}
		reason := ""
		if len(args) > 1 {
			reason = args[1]
		} else {
			warn("[orchctl] no failure reason given for task %d", id)
		}
		return client().ReportResult(id, false, reason)
	}}
	taskCmd.AddCommand(taskOK, taskFail)
	root.AddCommand(taskCmd)

	statusCmd := &cobra.Command{Use: "status", Short: "Print scheduler and workflow status", RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := client().Status()
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	}}
	root.AddCommand(statusCmd)

	modelsCmd := &cobra.Command{Use: "models", Short: "List registered models", RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := client().Models()
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	}}
	root.AddCommand(modelsCmd)

	eventsCmd := &cobra.Command{Use: "events", Short: "Stream orchestration events until interrupted", RunE: func(cmd *cobra.Command, args []string) error {
		info("[orchctl] streaming events from %s (Ctrl+C to stop)", cfg.Addr)
		return client().Events(cmd.Context(), os.Stdout)
	}}
	root.AddCommand(eventsCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(os.Stdout) }})
	root.AddCommand(completionCmd)

	return root
}
