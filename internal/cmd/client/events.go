package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rzbill/docflow/internal/event"
)

// NewEventsCommand constructs the `events` command group.
func NewEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	eventsCmd := &cobra.Command{Use: "events", Short: "Event log operations"}
	eventsCmd.AddCommand(newEventsAppendCommand(baseURL))
	return eventsCmd
}

// newEventsAppendCommand constructs the `events append` subcommand. The
// event is read from --file (a wire envelope, "-" for stdin) or built from
// --type, --submission, --document and --data.
func newEventsAppendCommand(baseURL BaseURLFunc) *cobra.Command {
	appendCmd := &cobra.Command{
		Use:   "append",
		Short: "Append one event to the log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			var body []byte
			var err error
			if file != "" {
				body, err = readEventFile(cmd, file)
			} else {
				body, err = buildEvent(cmd)
			}
			if err != nil {
				return err
			}
			ev, err := event.Decode(body)
			if err != nil {
				return err
			}
			if ev.Type == event.SubmissionPreparationCompleted {
				return fmt.Errorf("%s is emitted by the projection and cannot be appended", ev.Type)
			}
			resp, status, err := do(cmd.Context(), http.MethodPost, baseURL()+"/v1/events", body)
			if err != nil {
				return err
			}
			var out struct {
				ID       string `json:"id"`
				Range    string `json:"range"`
				Seq      uint64 `json:"seq"`
				Appended bool   `json:"appended"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				return err
			}
			verb := "appended"
			if !out.Appended {
				verb = "duplicate"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %d %s id=%s range=%s seq=%d\n", status, verb, out.ID, out.Range, out.Seq)
			return nil
		},
	}
	appendCmd.Flags().String("file", "", "Read a JSON event envelope from this file (- for stdin)")
	appendCmd.Flags().String("type", "", "Event type, e.g. DocumentClassified")
	appendCmd.Flags().String("submission", "", "Submission id")
	appendCmd.Flags().String("document", "", "Document ref for per-document events")
	appendCmd.Flags().String("data", "{}", "JSON payload")
	appendCmd.Flags().String("id", "", "Event id (random when empty)")
	return appendCmd
}

func newEventID() string { return uuid.NewString() }

func readEventFile(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}

func buildEvent(cmd *cobra.Command) ([]byte, error) {
	typ, _ := cmd.Flags().GetString("type")
	sub, _ := cmd.Flags().GetString("submission")
	doc, _ := cmd.Flags().GetString("document")
	data, _ := cmd.Flags().GetString("data")
	id, _ := cmd.Flags().GetString("id")
	if typ == "" || sub == "" {
		return nil, fmt.Errorf("--type and --submission are required without --file")
	}
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("--data is not valid JSON")
	}
	if id == "" {
		id = newEventID()
	}
	wire := map[string]any{
		"id":           id,
		"eventType":    typ,
		"submissionId": sub,
		"documentRef":  nil,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		"data":         json.RawMessage(data),
	}
	if doc != "" {
		wire["documentRef"] = doc
	}
	return json.Marshal(wire)
}
