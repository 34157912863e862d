package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/andy963/ads/internal/dbutil"
	"github.com/andy963/ads/internal/taskstore"
)

// workspaceStateDBPath returns <workspaceRoot>/.ads/state.db, creating the
// .ads directory if it doesn't exist yet.
func workspaceStateDBPath(workspaceRoot string) (string, error) {
	dir := filepath.Join(workspaceRoot, ".ads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

func openWorkspaceTaskStore(workspaceRoot string) (*taskstore.Store, error) {
	path, err := workspaceStateDBPath(workspaceRoot)
	if err != nil {
		return nil, err
	}
	db, err := dbutil.Open(path)
	if err != nil {
		return nil, err
	}
	store, err := taskstore.Open(context.Background(), db)
	if err != nil {
		return nil, err
	}
	store.SetBlobRoot(filepath.Join(workspaceRoot, ".ads", "attachments"))
	return store, nil
}

func taskCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "task",
		Short: "Inspect and enqueue tasks in a workspace's Task Store",
	}
	c.AddCommand(taskListCmd())
	c.AddCommand(taskCreateCmd())
	return c
}

func taskListCmd() *cobra.Command {
	var workspace, status string
	c := &cobra.Command{
		Use:   "list",
		Short: "List tasks in a workspace",
		Run: func(cmd *cobra.Command, args []string) {
			store, err := openWorkspaceTaskStore(workspace)
			if err != nil {
				fmt.Fprintf(os.Stderr, "ads: open workspace: %v\n", err)
				os.Exit(2)
			}
			tasks, err := store.ListTasks(context.Background(), taskstore.Filter{Status: taskstore.Status(status)})
			if err != nil {
				fmt.Fprintf(os.Stderr, "ads: list tasks: %v\n", err)
				os.Exit(1)
			}
			for _, t := range tasks {
				fmt.Printf("%s\t%-10s\t%s\n", t.ID, t.Status, t.Title)
			}
		},
	}
	c.Flags().StringVar(&workspace, "workspace", ".", "workspace root")
	c.Flags().StringVar(&status, "status", "", "filter by status (pending, queued, running, completed, failed, cancelled)")
	return c
}

func taskCreateCmd() *cobra.Command {
	var workspace, title, prompt string
	var enqueue bool
	c := &cobra.Command{
		Use:   "create",
		Short: "Create a task in a workspace, optionally enqueuing it",
		Run: func(cmd *cobra.Command, args []string) {
			if prompt == "" {
				fmt.Fprintln(os.Stderr, "ads: --prompt is required")
				os.Exit(1)
			}
			store, err := openWorkspaceTaskStore(workspace)
			if err != nil {
				fmt.Fprintf(os.Stderr, "ads: open workspace: %v\n", err)
				os.Exit(2)
			}
			now := time.Now()
			task, err := store.CreateTask(context.Background(), taskstore.Task{Title: title, Prompt: prompt, MaxRetries: 2}, now, "")
			if err != nil {
				fmt.Fprintf(os.Stderr, "ads: create task: %v\n", err)
				os.Exit(1)
			}
			if enqueue {
				if err := store.Enqueue(context.Background(), task.ID, now); err != nil {
					fmt.Fprintf(os.Stderr, "ads: enqueue task: %v\n", err)
					os.Exit(1)
				}
			}
			fmt.Println(task.ID)
		},
	}
	c.Flags().StringVar(&workspace, "workspace", ".", "workspace root")
	c.Flags().StringVar(&title, "title", "", "task title")
	c.Flags().StringVar(&prompt, "prompt", "", "task prompt (required)")
	c.Flags().BoolVar(&enqueue, "enqueue", true, "enqueue the task immediately")
	return c
}

func workspaceCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "workspace",
		Short: "Manage a workspace's .ads directory",
	}
	c.AddCommand(workspaceInitCmd())
	return c
}

func workspaceInitCmd() *cobra.Command {
	var root string
	c := &cobra.Command{
		Use:   "init",
		Short: "Scaffold the .ads directory layout in a workspace",
		Run: func(cmd *cobra.Command, args []string) {
			if err := initWorkspaceLayout(root); err != nil {
				fmt.Fprintf(os.Stderr, "ads: init workspace: %v\n", err)
				os.Exit(2)
			}
			fmt.Printf("initialized workspace at %s\n", root)
		},
	}
	c.Flags().StringVar(&root, "root", ".", "workspace root to initialize")
	return c
}

// initWorkspaceLayout creates <root>/.ads/{templates,attachments,logs} and a
// state.db (schema applied on first open by whichever store opens it
// first), plus a minimal workspace.json identity file if none exists yet.
func initWorkspaceLayout(root string) error {
	adsDir := filepath.Join(root, ".ads")
	for _, sub := range []string{"templates", "attachments", "logs"} {
		if err := os.MkdirAll(filepath.Join(adsDir, sub), 0o755); err != nil {
			return err
		}
	}

	identityPath := filepath.Join(adsDir, "workspace.json")
	if _, err := os.Stat(identityPath); os.IsNotExist(err) {
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = root
		}
		identity := fmt.Sprintf("{\n  \"workspace_root\": %q,\n  \"created_at\": %q\n}\n", abs, time.Now().UTC().Format(time.RFC3339))
		if err := os.WriteFile(identityPath, []byte(identity), 0o644); err != nil {
			return err
		}
	}

	store, err := openWorkspaceTaskStore(root)
	if err != nil {
		return err
	}
	_ = store
	return nil
}
