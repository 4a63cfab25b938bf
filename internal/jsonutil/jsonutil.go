// Package jsonutil formats structs for printing in the terminal.
package jsonutil

import (
	"bytes"
	"sort"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var formatter *prettyjson.Formatter

func init() {
	formatter = prettyjson.NewFormatter()
	formatter.Indent = 0
	formatter.Newline = ""
}

// SetColor enables or disables colored output.
func SetColor(enabled bool) {
	formatter.DisabledColor = !enabled
}

// MarshalCompactPretty formats the value as one "Name: value" line per field, sorted by name.
func MarshalCompactPretty(v any) ([]byte, error) {
	var buf bytes.Buffer
	m := structs.Map(v)
	names := structs.Names(v)
	sort.Strings(names)
	for _, name := range names {
		b, err := formatter.Marshal(m[name])
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}
