package workflow

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// Formatter renders logrus entries. With GitHub set, every entry becomes a
// workflow command (::debug::, ::notice::, ::warning::, ::error::) so the
// runner can annotate the job; otherwise entries are plain text lines.
type Formatter struct {
	GitHub bool
}

var _ logrus.Formatter = (*Formatter)(nil)

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	msg := entry.Message + formatFields(entry.Data)

	if f.GitHub {
		b.WriteString(githubCommand(entry.Level))
		b.WriteString(escapeData(msg))
		b.WriteByte('\n')
		return b.Bytes(), nil
	}

	if entry.Level != logrus.InfoLevel {
		b.WriteString(entry.Level.String())
		b.WriteString(": ")
	}
	b.WriteString(msg)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func githubCommand(level logrus.Level) string {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return "::debug::"
	case logrus.InfoLevel:
		return "::notice::"
	case logrus.WarnLevel:
		return "::warning::"
	default:
		return "::error::"
	}
}

func formatFields(data logrus.Fields) string {
	if len(data) == 0 {
		return ""
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, data[k])
	}
	return b.String()
}
