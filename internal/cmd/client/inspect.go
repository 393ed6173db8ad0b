package client

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewSubmissionCommand constructs the `submission` command group.
func NewSubmissionCommand(baseURL BaseURLFunc) *cobra.Command {
	subCmd := &cobra.Command{Use: "submission", Short: "Submission projection queries"}
	subCmd.AddCommand(&cobra.Command{
		Use:   "get <submission-id>",
		Short: "Show the projection record of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd.Context(), cmd.OutOrStdout(), baseURL()+"/v1/submissions/"+url.PathEscape(args[0]))
		},
	})
	return subCmd
}

// NewClusterCommand constructs the `cluster` command group: lease,
// heartbeats, assignment, ranges and cursors.
func NewClusterCommand(baseURL BaseURLFunc) *cobra.Command {
	clusterCmd := &cobra.Command{Use: "cluster", Short: "Coordination state"}
	show := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return getAndPrint(cmd.Context(), cmd.OutOrStdout(), baseURL()+path)
			},
		}
	}
	clusterCmd.AddCommand(
		show("lease", "Show the coordinator lease", "/v1/lease"),
		show("heartbeats", "List replica heartbeats", "/v1/heartbeats"),
		show("assignment", "Show the current range assignment", "/v1/assignment"),
		show("ranges", "List partition ranges", "/v1/ranges"),
		show("replica", "Show the status of the replica serving the API", "/v1/replica"),
		&cobra.Command{
			Use:   "cursor <range-id>",
			Short: "Show the committed cursor of a range",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getAndPrint(cmd.Context(), cmd.OutOrStdout(), baseURL()+"/v1/ranges/"+url.PathEscape(args[0])+"/cursor")
			},
		},
	)
	return clusterCmd
}

// NewDeadLettersCommand constructs the `deadletters` command group.
func NewDeadLettersCommand(baseURL BaseURLFunc) *cobra.Command {
	dlqCmd := &cobra.Command{Use: "deadletters", Short: "Dead-letter queries"}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rangeID, _ := cmd.Flags().GetString("range")
			after, _ := cmd.Flags().GetString("after")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{}
			if rangeID != "" {
				q.Set("range", rangeID)
			}
			if after != "" {
				q.Set("after", after)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			u := baseURL() + "/v1/deadletters"
			if len(q) > 0 {
				u = fmt.Sprintf("%s?%s", u, q.Encode())
			}
			return getAndPrint(cmd.Context(), cmd.OutOrStdout(), u)
		},
	}
	listCmd.Flags().String("range", "", "Only records from this range")
	listCmd.Flags().String("after", "", "Resume after this record id")
	listCmd.Flags().Int("limit", 0, "Maximum records (server default 100)")
	dlqCmd.AddCommand(listCmd)
	return dlqCmd
}
