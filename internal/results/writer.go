// Package results writes finished session reports to disk.
package results

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
	"github.com/xkilldash9x/wayfarer/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// unsafeName matches characters not allowed in report file names.
var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Writer stores each session as results_<id>.json, plus errors_<id>.json
// when any step failed and screenshot_<id>.png when one was captured.
type Writer struct {
	dir         string
	screenshots bool
	logger      *zap.Logger
}

var _ schemas.HistoryStore = (*Writer)(nil)

// NewWriter creates the output directory if needed.
func NewWriter(cfg config.OutputConfig, logger *zap.Logger) (*Writer, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &Writer{dir: dir, screenshots: cfg.Screenshots, logger: logger.Named("results")}, nil
}

// errorReport is the content of errors_<id>.json.
type errorReport struct {
	SessionID string               `json:"session_id"`
	Target    string               `json:"target"`
	Reason    string               `json:"reason"`
	Error     string               `json:"error,omitempty"`
	Failures  []schemas.StepResult `json:"failures"`
}

// SaveSession implements schemas.HistoryStore.
func (w *Writer) SaveSession(ctx context.Context, report *schemas.SessionReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if report == nil || report.SessionID == "" {
		return fmt.Errorf("session report has no session id")
	}
	id := unsafeName.ReplaceAllString(report.SessionID, "_")

	resultsPath := filepath.Join(w.dir, "results_"+id+".json")
	if err := writeJSON(resultsPath, report); err != nil {
		return err
	}

	if failures := report.Failures(); len(failures) > 0 || report.Error != "" {
		errReport := errorReport{
			SessionID: report.SessionID,
			Target:    report.Target,
			Reason:    string(report.Reason),
			Error:     report.Error,
			Failures:  failures,
		}
		if err := writeJSON(filepath.Join(w.dir, "errors_"+id+".json"), errReport); err != nil {
			return err
		}
	}

	if w.screenshots && len(report.Screenshot) > 0 {
		shotPath := filepath.Join(w.dir, "screenshot_"+id+".png")
		if err := writeFileAtomic(shotPath, report.Screenshot); err != nil {
			return err
		}
	}

	w.logger.Info("Session report written.", zap.String("session_id", report.SessionID), zap.String("path", resultsPath))
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic writes through a temp file so readers never see a partial report.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move report into place at %s: %w", path, err)
	}
	return nil
}

// Load reads a results_<id>.json file back.
func Load(path string) (*schemas.SessionReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	var report schemas.SessionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &report, nil
}

// PrintSummary writes one line per session to out.
func PrintSummary(out io.Writer, reports []*schemas.SessionReport) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tTARGET\tREASON\tSTEPS\tOK\tFAILED\tDURATION\tFINAL URL")
	for _, r := range reports {
		if r == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			shortID(r.SessionID), r.Target, r.Reason, r.Steps, r.MaxSteps,
			r.Succeeded(), len(r.Failures()),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), r.FinalURL)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
