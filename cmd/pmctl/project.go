package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectInMemory bool

func init() {
	projectOpenCmd.Flags().BoolVar(&projectInMemory, "in-memory", false, "create an in-memory project instead of opening a path")
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectOpenCmd)
	projectCmd.AddCommand(projectCloseCmd)
}

// ProjectResponse matches internal/http/server.go ProjectResponse
type ProjectResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Format   string `json:"format"`
	InMemory bool   `json:"in_memory"`
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		var projects []ProjectResponse
		if err := getJSON("/api/v1/projects", &projects); err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("No open projects.")
			return nil
		}
		for _, p := range projects {
			location := p.Path
			if p.InMemory {
				location = "(in-memory)"
			}
			fmt.Printf("%s  %-8s  %-20s  %s\n", p.ID, p.Format, p.Name, location)
		}
		return nil
	},
}

var projectOpenCmd = &cobra.Command{
	Use:   "open <path|name>",
	Short: "Open a project directory (or create an in-memory project)",
	Long: `Open a project directory on the server.

Examples:
  # Open a project by path
  pmctl project open /home/user/work/app

  # Create an in-memory scratch project
  pmctl project open --in-memory scratch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if projectInMemory {
			body["in_memory"] = true
			body["name"] = args[0]
		} else {
			body["path"] = args[0]
		}

		var p ProjectResponse
		if err := sendJSON(http.MethodPost, "/api/v1/projects", body, &p); err != nil {
			return err
		}
		fmt.Printf("Opened project %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

var projectCloseCmd = &cobra.Command{
	Use:   "close <project-id>",
	Short: "Close an open project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/projects/" + url.PathEscape(args[0])
		if err := sendJSON(http.MethodDelete, path, nil, nil); err != nil {
			return err
		}
		fmt.Printf("Closed project %s\n", args[0])
		return nil
	},
}
