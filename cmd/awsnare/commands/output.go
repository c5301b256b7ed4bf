package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/awsnare/awsnare/pkg/engine"
	"github.com/awsnare/awsnare/pkg/engine/trail"
	"github.com/charmbracelet/lipgloss"
)

var (
	hitStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	descStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#AAAAAA"))
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	errStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000"))
)

// printExplanation writes one match block: styled rule header, then the
// plain field lines.
func printExplanation(w io.Writer, x trail.Explanation) {
	_, body, _ := strings.Cut(x.Render(), "\n")
	if x.Description != "" {
		body = strings.TrimPrefix(body, x.Description+"\n")
	}
	fmt.Fprintln(w, hitStyle.Render("[!] "+x.Rule))
	if x.Description != "" {
		fmt.Fprintln(w, descStyle.Render(x.Description))
	}
	fmt.Fprint(w, body)
	fmt.Fprintln(w)
}

// printSummary writes the closing line of a run.
func printSummary(w io.Writer, res *engine.Result) {
	if res == nil {
		return
	}
	if res.ArtifactPath != "" {
		fmt.Fprintln(w, okStyle.Render(fmt.Sprintf("[+] Saved %d hits to %s", len(res.Hits), res.ArtifactPath)))
	} else {
		fmt.Fprintln(w, okStyle.Render("[+] No hits"))
	}
	if res.Scan != nil {
		fmt.Fprintf(w, "    scanned %d files, %d records (%d mentioning a snare)\n",
			res.Scan.Files, res.Scan.Records, res.Scan.Admitted)
	}
	if res.FetchFailures > 0 || res.ParseFailures > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("[-] %d objects failed to download, %d archives failed to parse",
			res.FetchFailures, res.ParseFailures)))
	}
}
