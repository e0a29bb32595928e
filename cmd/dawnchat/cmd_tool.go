// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dawnchat/dawnchat-go/internal/events"
	"github.com/dawnchat/dawnchat-go/internal/toolgw"
)

func init() {
	rootCmd.AddCommand(toolCmd)
	toolCmd.AddCommand(toolCallCmd, toolStatusCmd, toolCancelCmd, toolListCmd)

	toolCallCmd.Flags().String("args", "{}", "tool arguments as a JSON object")
	toolCallCmd.Flags().String("mode", "", "execution mode: auto, sync, async (default from config)")
	toolCallCmd.Flags().Float64("timeout", 0, "tool timeout in seconds (default from config)")
	toolCallCmd.Flags().Bool("quiet", false, "suppress progress output")

	toolListCmd.Flags().String("namespace", "", "only tools in this namespace")
	toolListCmd.Flags().Bool("all", false, "include currently unavailable tools")
}

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Invoke and inspect host tools",
}

var toolCallCmd = &cobra.Command{
	Use:   "call <tool-name>",
	Short: "Call a tool and wait for its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		rawArgs, _ := cmd.Flags().GetString("args")
		var toolArgs map[string]any
		if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
			return fmt.Errorf("--args must be a JSON object: %w", err)
		}

		mode, _ := cmd.Flags().GetString("mode")
		if mode == "" {
			mode = cfg.Tools.Mode
		}
		timeout, _ := cmd.Flags().GetFloat64("timeout")
		if timeout == 0 {
			timeout = cfg.Tools.TimeoutSecs
		}
		quiet, _ := cmd.Flags().GetBool("quiet")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sink := events.NewBroadcaster()
		orch := toolgw.NewOrchestrator(hostClient(cfg), sink)

		if !quiet {
			ch, cancel := sink.Subscribe()
			defer cancel()
			go func() {
				for ev := range ch {
					fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Code, ev.Message)
				}
			}()
		}

		// Cancel the host-side task too when the user interrupts.
		go func() {
			<-ctx.Done()
			orch.Cancel(context.Background())
		}()

		result, err := orch.Run(ctx, toolgw.CallRequest{
			ToolName:  args[0],
			Arguments: toolArgs,
			Mode:      mode,
			Timeout:   timeout,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var toolStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the status of an async tool task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		task, err := hostClient(cfg).GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var toolCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel an async tool task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := hostClient(cfg).CancelTask(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Task %s cancelled.\n", args[0])
		return nil
	},
}

var toolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools available on the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		namespace, _ := cmd.Flags().GetString("namespace")
		all, _ := cmd.Flags().GetBool("all")

		tools, err := hostClient(cfg).ListTools(cmd.Context(), toolgw.ListToolsOptions{
			Namespace:          namespace,
			IncludeUnavailable: all,
		})
		if err != nil {
			return err
		}
		if len(tools) == 0 {
			fmt.Println("No tools available.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCATEGORY\tSTRATEGY\tPROGRESS\tDESCRIPTION")
		for _, t := range tools {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", t.Name, t.Category, t.ExecutionStrategy, t.SupportsProgress, t.Description)
		}
		return w.Flush()
	},
}
