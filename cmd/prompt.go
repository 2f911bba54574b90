package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// promptConfirmer asks on the terminal before an existing playlist is
// overwritten. Questions are serialized so concurrent batches never
// interleave their prompts.
type promptConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	all *bool // set once the operator answers "all" or "none"
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out}
}

// ConfirmOverwrite returns true for y/yes/a/all. "a" and "n!" stick for
// the rest of the process. EOF counts as no.
func (c *promptConfirmer) ConfirmOverwrite(playlist string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.all != nil {
		return *c.all, nil
	}

	for {
		fmt.Fprintf(c.out, "%s already exists. Overwrite? [y]es/[n]o/[a]ll/[n!] none: ", playlist)
		line, err := c.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if err != nil && answer == "" {
			if err == io.EOF {
				fmt.Fprintln(c.out)
				return false, nil
			}
			return false, err
		}

		switch answer {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		case "a", "all":
			yes := true
			c.all = &yes
			return true, nil
		case "n!", "none":
			no := false
			c.all = &no
			return false, nil
		}
		fmt.Fprintf(c.out, "unrecognized answer %q\n", answer)
	}
}

// isTerminal reports whether f is an interactive character device.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
