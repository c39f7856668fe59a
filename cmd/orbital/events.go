package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// streamFrame mirrors pkg/api's streamFrame wire shape. Kept as a
// separate definition rather than importing pkg/api, which would pull
// in the orchestrator/store/bus dependency graph for a CLI that only
// needs the JSON shape.
type streamFrame struct {
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail the live event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		project, _ := cmd.Flags().GetString("project")

		url := server + "/events/stream"
		if project != "" {
			url += "?project=" + project
		}

		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("failed to connect to event stream: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("event stream returned status %d", resp.StatusCode)
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var frame streamFrame
			if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
				fmt.Printf("(unparseable frame: %v)\n", err)
				continue
			}
			fmt.Printf("[%s] %-28s %v\n", frame.Timestamp, frame.Type, frame.Payload)
		}
		return scanner.Err()
	},
}

func init() {
	eventsCmd.Flags().String("project", "", "Only show events for this project id")
}
