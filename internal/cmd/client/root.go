package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the docflow client.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "docflow",
		Short: "docflow client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers every client command group on root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		NewEventsCommand(baseURL),
		NewSubmissionCommand(baseURL),
		NewClusterCommand(baseURL),
		NewDeadLettersCommand(baseURL),
		NewHealthCommand(),
	)
}
