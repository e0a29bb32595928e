// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dawnchat/dawnchat-go/internal/config"
	"github.com/dawnchat/dawnchat-go/internal/downloads"
	"github.com/dawnchat/dawnchat-go/internal/events"
)

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.AddCommand(downloadStartCmd, downloadStatusCmd, downloadPauseCmd,
		downloadCancelCmd, downloadPendingCmd, downloadWatchCmd)

	downloadStartCmd.Flags().String("hf-repo", "", "Hugging Face repo id (e.g. org/model)")
	downloadStartCmd.Flags().String("url", "", "direct download URL")
	downloadStartCmd.Flags().String("source", "http", "source for --url downloads: github or http")
	downloadStartCmd.Flags().String("model-id", "", "local model id to associate with the download")
	downloadStartCmd.Flags().String("model-type", "", "model type (e.g. llm, embedding)")
	downloadStartCmd.Flags().String("filename", "", "single file to fetch from the repo")
	downloadStartCmd.Flags().String("save-dir", "", "host directory to save into")
	downloadStartCmd.Flags().String("save-path", "", "host path to save a --url download to")
	downloadStartCmd.Flags().Bool("resume", false, "resume a partial download")
	downloadStartCmd.Flags().Bool("mirror", false, "use the configured mirror")

	downloadPendingCmd.Flags().String("model-type", "", "only downloads of this model type")
	downloadPendingCmd.Flags().String("prefix", "", "only task ids with this prefix")
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Manage model downloads on the host",
}

// facadeFor builds the download facade and the persistent task-id store.
func facadeFor(cfg *config.Config) (*downloads.Facade, *downloads.IDStore) {
	return downloads.NewFacade(hostClient(cfg)), downloads.NewIDStore(cfg.Downloads.TaskStorePath)
}

// resolveTaskID maps a model id from the task store to its download task id,
// passing through anything that is not a known model id.
func resolveTaskID(store *downloads.IDStore, id string) string {
	if taskID, ok := store.Get(id); ok {
		return taskID
	}
	return id
}

var downloadStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a model download",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		facade, store := facadeFor(cfg)

		hfRepo, _ := cmd.Flags().GetString("hf-repo")
		rawURL, _ := cmd.Flags().GetString("url")
		modelID, _ := cmd.Flags().GetString("model-id")
		modelType, _ := cmd.Flags().GetString("model-type")
		resume, _ := cmd.Flags().GetBool("resume")

		var useMirror *bool
		if cmd.Flags().Changed("mirror") {
			v, _ := cmd.Flags().GetBool("mirror")
			useMirror = &v
		}

		var task *downloads.Task
		switch {
		case hfRepo != "":
			filename, _ := cmd.Flags().GetString("filename")
			saveDir, _ := cmd.Flags().GetString("save-dir")
			task, err = facade.StartHF(cmd.Context(), downloads.StartHFRequest{
				ModelType: modelType,
				ModelID:   modelID,
				HFRepoID:  hfRepo,
				SaveDir:   saveDir,
				Filename:  filename,
				UseMirror: useMirror,
				Resume:    resume,
			})
		case rawURL != "":
			source, _ := cmd.Flags().GetString("source")
			savePath, _ := cmd.Flags().GetString("save-path")
			task, err = facade.StartURL(cmd.Context(), downloads.StartURLRequest{
				Source:    downloads.Source(source),
				URL:       rawURL,
				SavePath:  savePath,
				UseMirror: useMirror,
				Resume:    resume,
			})
		default:
			return fmt.Errorf("either --hf-repo or --url is required")
		}
		if err != nil {
			return err
		}

		if modelID != "" {
			if err := store.Set(modelID, task.TaskID); err != nil {
				fmt.Fprintf(os.Stderr, "warning: could not record task id: %v\n", err)
			}
		}
		return printJSON(task)
	},
}

var downloadStatusCmd = &cobra.Command{
	Use:   "status <task-id|model-id>",
	Short: "Show the status of a download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		facade, store := facadeFor(cfg)
		task, err := facade.Get(cmd.Context(), resolveTaskID(store, args[0]))
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var downloadPauseCmd = &cobra.Command{
	Use:   "pause <task-id|model-id>",
	Short: "Pause a running download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		facade, store := facadeFor(cfg)
		taskID := resolveTaskID(store, args[0])
		if err := facade.Pause(cmd.Context(), taskID); err != nil {
			return err
		}
		fmt.Printf("Download %s paused.\n", taskID)
		return nil
	},
}

var downloadCancelCmd = &cobra.Command{
	Use:   "cancel <task-id|model-id>",
	Short: "Cancel a download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		facade, store := facadeFor(cfg)
		taskID := resolveTaskID(store, args[0])
		if err := facade.Cancel(cmd.Context(), taskID); err != nil {
			return err
		}
		fmt.Printf("Download %s cancelled.\n", taskID)
		return nil
	},
}

var downloadPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List unfinished downloads on the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		facade, _ := facadeFor(cfg)

		modelType, _ := cmd.Flags().GetString("model-type")
		prefix, _ := cmd.Flags().GetString("prefix")
		tasks, err := facade.Pending(cmd.Context(), downloads.PendingFilter{
			ModelType:    modelType,
			TaskIDPrefix: prefix,
		})
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No pending downloads.")
			return nil
		}
		printDownloadTable(tasks)
		return nil
	},
}

var downloadWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow all pending downloads until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		facade, _ := facadeFor(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tasks, err := facade.Pending(ctx, downloads.PendingFilter{})
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No pending downloads.")
			return nil
		}

		sink := events.NewBroadcaster()
		ch, cancel := sink.Subscribe()
		defer cancel()
		go func() {
			for ev := range ch {
				if ev.Code != "download_update" {
					continue
				}
				fmt.Printf("%s: %s %.0f%%\n",
					ev.Context["task_id"], ev.Context["status"],
					100*toFloat(ev.Context["progress"]))
			}
		}()

		registry := downloads.NewRegistry(facade, sink).
			WithPollInterval(cfg.Downloads.PollInterval())
		for _, task := range tasks {
			registry.TrackTask(task)
		}

		if err := registry.Watch(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func printDownloadTable(tasks []downloads.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK ID\tMODEL\tSOURCE\tSTATUS\tPROGRESS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\n", t.TaskID, t.ModelID, t.Source, t.Status, 100*t.Progress)
	}
	w.Flush()
}
