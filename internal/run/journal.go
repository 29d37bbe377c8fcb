package run

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ProgressFile is the markdown journal written into each run directory.
const ProgressFile = "progress.md"

type journal struct {
	path  string
	issue string
}

func newJournal(runDir, issueLabel string) *journal {
	return &journal{path: filepath.Join(runDir, ProgressFile), issue: issueLabel}
}

func (j *journal) append(res stepResult) {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create run dir")
		return
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error().Err(err).Msg("failed to open progress.md")
		return
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	fmt.Fprintf(&b, "## %s · %d %s · %s\n", res.StartedAt.UTC().Format(time.RFC3339), res.Index, strings.ToUpper(res.Phase), res.Status)
	fmt.Fprintf(&b, "**Issue:** %s  \n", j.issue)
	fmt.Fprintf(&b, "**Type:** %s · **Duration:** %s\n\n", res.Type, res.EndedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if res.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", res.Summary)
	}
	if len(res.Violations) > 0 {
		b.WriteString("**Disallowed writes:**\n")
		for _, v := range res.Violations {
			fmt.Fprintf(&b, "- %s\n", v)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**Step dir:** %s\n\n", res.Dir)

	if _, err := f.WriteString(b.String()); err != nil {
		log.Error().Err(err).Msg("failed to write progress.md")
	}
}
