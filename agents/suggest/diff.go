package suggest

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MaxDiffLines skips diff rendering for very large files.
const MaxDiffLines = 5000

// LineDiff renders a line-oriented diff of before and after for path. Lines
// are prefixed with "+", "-" or " ". A new file diffs against "/dev/null".
func LineDiff(path, before, after string) string {
	if before == after {
		return ""
	}
	if lineCount(before)+lineCount(after) > MaxDiffLines {
		return ""
	}
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var b strings.Builder
	if before == "" {
		b.WriteString("--- /dev/null\n")
	} else {
		b.WriteString("--- a/" + path + "\n")
	}
	b.WriteString("+++ b/" + path + "\n")
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range chunk {
			b.WriteString(prefix + line + "\n")
		}
	}
	return b.String()
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(value, "\n") + 1
}
