package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"churnrig/pkg/api"
	"churnrig/pkg/controller"
	"churnrig/pkg/journal"
)

// client talks to the HTTP API of a running host.
type client struct {
	base string
	http *http.Client
}

func newClient(cmd *cobra.Command) *client {
	base, _ := cmd.Flags().GetString("server")
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type reply struct {
	Result json.RawMessage `json:"result"`
	Error  *api.ErrorBody  `json:"error"`
}

func (c *client) do(method, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(text)))
	}
	var r reply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("bad reply from %s: %w", c.base, err)
	}
	if r.Error != nil {
		return fmt.Errorf("%s: %s", r.Error.Code, r.Error.Message)
	}
	if out != nil && len(r.Result) > 0 {
		return json.Unmarshal(r.Result, out)
	}
	return nil
}

func (c *client) command(name string, args []string, out interface{}) error {
	var body interface{}
	if len(args) > 0 {
		body = api.CommandRequest{Args: args}
	}
	return c.do("POST", "/api/commands/"+url.PathEscape(name), body, out)
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [key=value ...]",
		Short: "Start a cycle on a running host",
		Long: `Start a cycle on a running host. Arguments override the host's configuration
for this run only; a bare key sets it true and !key sets it false.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st controller.Status
			if err := newClient(cmd).command("start", args, &st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Aliases: []string{"halt", "abort"},
		Short:   "Abort the running cycle: drills off, then every actuator",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st controller.Status
			if err := newClient(cmd).command("stop", nil, &st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

// moveCmd positions the pistons of an idle rig; stop halts it.
func moveCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st controller.Status
			if err := newClient(cmd).command(name, nil, &st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running cycle, or the last one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := newClient(cmd).do("GET", "/api/status", nil, &raw); err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeIndented(cmd.OutOrStdout(), raw)
			}
			var st controller.Status
			if err := json.Unmarshal(raw, &st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the raw JSON status")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "List the effective configuration and the blocks each group resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rep controller.ConfigReport
			if err := newClient(cmd).do("GET", "/api/config", nil, &rep); err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), rep)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the reports of one run",
		Long: `List recorded runs, newest first, or the report lines of one run.
With --journal the SQLite journal is read directly; otherwise the running
host is asked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			path, _ := cmd.Flags().GetString("journal")

			var src api.History
			if path != "" {
				j, err := journal.Open(path)
				if err != nil {
					return err
				}
				defer j.Close()
				src = j
			} else {
				src = remoteHistory{newClient(cmd)}
			}

			if len(args) == 1 {
				entries, err := src.Reports(args[0], limit)
				if err != nil {
					return err
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			}
			runs, err := src.Runs(limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "how many runs or lines to show")
	cmd.Flags().String("journal", "", "read this journal file instead of asking the host")
	return cmd
}

// remoteHistory reads the journal through the host's API.
type remoteHistory struct{ c *client }

func (h remoteHistory) Runs(limit int) ([]journal.Run, error) {
	var runs []journal.Run
	err := h.c.do("GET", "/api/history?limit="+strconv.Itoa(limit), nil, &runs)
	return runs, err
}

func (h remoteHistory) Reports(runID string, limit int) ([]journal.Entry, error) {
	var entries []journal.Entry
	err := h.c.do("GET", "/api/history/"+url.PathEscape(runID)+"?limit="+strconv.Itoa(limit), nil, &entries)
	return entries, err
}

func writeIndented(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
