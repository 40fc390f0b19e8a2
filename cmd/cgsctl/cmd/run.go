package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Execute a pending run and print its events as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecute,
}

func runExecute(cmd *cobra.Command, args []string) error {
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed, err := executeRun(ctx, viper.GetString("server"), viper.GetString("token"), runID, cmd.OutOrStdout(), newLogger())
	if err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("run %s failed", runID)
	}
	return nil
}

// executeRun posts the execute request and copies every SSE event's data
// line to out. It reports whether the run ended with an error event.
func executeRun(ctx context.Context, base, bearer string, runID uuid.UUID, out io.Writer, logger *zap.Logger) (bool, error) {
	url := strings.TrimRight(base, "/") + "/api/v1/runs/" + runID.String() + "/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("execute run: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("execute run: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var (
		event  string
		failed bool
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if !json.Valid([]byte(data)) {
				logger.Warn("Skipping malformed event", zap.String("event", event))
				continue
			}
			if _, err := fmt.Fprintln(out, data); err != nil {
				return failed, err
			}
			if event == "error" {
				failed = true
			}
		case line == "":
			event = ""
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return failed, fmt.Errorf("read event stream: %w", err)
	}
	return failed, nil
}
