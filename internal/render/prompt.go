package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks question on w and reads a single line from r. An empty
// answer, "y" and "yes" accept. A closed input declines.
func Confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "\n%s (Y/n): ", question)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(w)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}
