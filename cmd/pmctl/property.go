package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var propertyCmd = &cobra.Command{
	Use:   "property",
	Short: "Manage project-level properties",
}

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Manage per-resource properties",
}

func init() {
	propertyCmd.AddCommand(propertyGetCmd)
	propertyCmd.AddCommand(propertySetCmd)
	resourceCmd.AddCommand(resourceGetCmd)
	resourceCmd.AddCommand(resourceSetCmd)
}

// PropertyResponse matches internal/http/server.go PropertyResponse
type PropertyResponse struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

var propertyGetCmd = &cobra.Command{
	Use:   "get <project-id> [name]",
	Short: "Get one project property, or all of them",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := "/api/v1/projects/" + url.PathEscape(args[0]) + "/properties"

		if len(args) == 1 {
			var props map[string]any
			if err := getJSON(base, &props); err != nil {
				return err
			}
			return printJSON(props)
		}

		var resp PropertyResponse
		if err := getJSON(base+"/"+url.PathEscape(args[1]), &resp); err != nil {
			return err
		}
		return printJSON(resp.Value)
	},
}

var propertySetCmd = &cobra.Command{
	Use:   "set <project-id> <name> <value>",
	Short: "Set a project property",
	Long: `Set a project-level property. The value is parsed as JSON when
possible, otherwise stored as a string. "null" removes the property.

Examples:
  pmctl property set 4f7d... theme dark
  pmctl property set 4f7d... page-size 50
  pmctl property set 4f7d... theme null`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/projects/" + url.PathEscape(args[0]) + "/properties/" + url.PathEscape(args[1])
		body := map[string]any{"value": parseScalar(args[2])}
		if err := sendJSON(http.MethodPut, path, body, nil); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var resourceGetCmd = &cobra.Command{
	Use:   "get <project-id> [resource-path]",
	Short: "Get a resource's properties, or the whole cache",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/projects/" + url.PathEscape(args[0]) + "/resources"
		if len(args) == 2 {
			path += "?path=" + url.QueryEscape(args[1])
		}

		var out any
		if err := getJSON(path, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var resourceSetCmd = &cobra.Command{
	Use:   "set <project-id> <resource-path> <name> <value>",
	Short: "Set one property of a resource",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/projects/" + url.PathEscape(args[0]) + "/resources"
		body := map[string]any{
			"path":       args[1],
			"properties": map[string]any{args[2]: parseScalar(args[3])},
		}
		if err := sendJSON(http.MethodPut, path, body, nil); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

// parseScalar interprets a command-line value as a JSON scalar where
// possible, falling back to a plain string.
func parseScalar(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		switch v.(type) {
		case string, float64, bool, nil:
			return v
		}
	}
	return s
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render response: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
