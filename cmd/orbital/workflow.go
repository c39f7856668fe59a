package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orbitalci/orbital/pkg/client"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger PROJECT_ID GOAL",
	Short: "Start a new CI validation workflow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		hint, _ := cmd.Flags().GetString("planning-hint")
		maxIter, _ := cmd.Flags().GetInt("max-iterations")
		autoConfirm, _ := cmd.Flags().GetBool("auto-confirm")
		autoMerge, _ := cmd.Flags().GetBool("auto-merge-pr")

		c := client.NewClient(server)
		wf, err := c.StartWorkflow(client.StartWorkflowRequest{
			ProjectID:     args[0],
			Goal:          args[1],
			PlanningHint:  hint,
			MaxIterations: maxIter,
			AutoConfirm:   autoConfirm,
			AutoMergePR:   autoMerge,
		})
		if err != nil {
			return fmt.Errorf("failed to start workflow: %w", err)
		}

		fmt.Printf("workflow started\n")
		fmt.Printf("  id:      %s\n", wf.ID)
		fmt.Printf("  project: %s\n", wf.ProjectID)
		fmt.Printf("  state:   %s\n", wf.State)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status WORKFLOW_ID",
	Short: "Show a workflow's current state and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		c := client.NewClient(server)

		wf, err := c.GetWorkflow(args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch workflow: %w", err)
		}

		fmt.Printf("id:        %s\n", wf.ID)
		fmt.Printf("project:   %s\n", wf.ProjectID)
		fmt.Printf("state:     %s\n", wf.State)
		fmt.Printf("iteration: %d/%d\n", wf.Metadata.CurrentIteration, wf.Metadata.MaxIterations)
		if wf.Metadata.CurrentPRNumber != 0 {
			fmt.Printf("pr:        #%d\n", wf.Metadata.CurrentPRNumber)
		}
		if wf.ErrorCause != "" {
			fmt.Printf("error:     %s\n", wf.ErrorCause)
		}
		if len(wf.History) > 0 {
			fmt.Println("history:")
			for _, t := range wf.History {
				fmt.Printf("  %s -> %s (%s) @ %s\n", t.From, t.To, t.Trigger, t.Timestamp.Format("15:04:05"))
			}
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel WORKFLOW_ID",
	Short: "Request cancellation of a running workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		c := client.NewClient(server)

		if err := c.CancelWorkflow(args[0]); err != nil {
			return fmt.Errorf("failed to cancel workflow: %w", err)
		}
		fmt.Printf("cancellation requested for %s\n", args[0])
		return nil
	},
}

func init() {
	triggerCmd.Flags().String("planning-hint", "", "Optional hint steering the agent's plan")
	triggerCmd.Flags().Int("max-iterations", 0, "Override the default iteration cap (0 = server default)")
	triggerCmd.Flags().Bool("auto-confirm", true, "Skip human plan confirmation")
	triggerCmd.Flags().Bool("auto-merge-pr", false, "Merge the PR automatically once requirements are met")
}
