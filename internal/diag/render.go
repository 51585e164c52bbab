package diag

import (
	"fmt"
	"strings"
)

// Render produces the user-facing title and body for a report.
func Render(kind Kind, c Context) (title, body string) {
	var b strings.Builder
	switch kind {
	case Critical:
		title = "CRITICAL ARCHIVE ERROR"
	case Memory:
		title = "MEMORY ERROR"
	case Corruption:
		title = "CORRUPTED ARCHIVE ENTRY"
	default:
		title = "ARCHIVE WARNING"
	}
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Archive", c.Source)
	line("Operation", c.Operation)
	if c.HasIndex() {
		line("Entry", fmt.Sprintf("%d", c.Index))
	}
	line("File", c.Filename)
	if c.MemorySize > 0 {
		line("Requested", FormatBytes(c.MemorySize))
	}
	line("Details", c.Detail)
	switch kind {
	case Memory:
		b.WriteString("\nThe image is too large to load safely. Close other applications or skip this image.\n")
	case Corruption:
		b.WriteString("\nThis image will be skipped.\n")
	case Critical:
		b.WriteString("\nThe archive will be skipped.\n")
	}
	return title, strings.TrimRight(b.String(), "\n")
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
