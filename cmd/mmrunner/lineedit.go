package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

type keyResult int

const (
	keyContinue keyResult = iota
	keyAccept
	keyAbort
)

const (
	escNone = iota
	escStart
	escCSI
)

// lineEditor is a minimal readline: cursor movement, word motions and
// history. It is fed one byte at a time from a terminal in raw mode.
type lineEditor struct {
	out     io.Writer
	prompt  string
	history []string

	line   []byte
	cursor int

	esc int
	csi strings.Builder

	histPos  int
	browsing bool
	draft    string
}

func newLineEditor(out io.Writer) *lineEditor {
	return &lineEditor{out: out}
}

// begin starts a new line and prints the prompt.
func (e *lineEditor) begin(prompt string) {
	e.prompt = prompt
	e.line = e.line[:0]
	e.cursor = 0
	e.esc = escNone
	e.histPos = len(e.history)
	e.browsing = false
	e.draft = ""
	_, _ = fmt.Fprint(e.out, prompt)
}

// accept ends the line, records it in history and returns it.
func (e *lineEditor) accept() string {
	_, _ = fmt.Fprint(e.out, "\r\n")
	s := string(e.line)
	if strings.TrimSpace(s) != "" {
		e.history = append(e.history, s)
	}
	return s
}

func (e *lineEditor) feed(b byte) keyResult {
	switch e.esc {
	case escStart:
		e.esc = escNone
		switch b {
		case '[':
			e.esc = escCSI
			e.csi.Reset()
		case 'b', 'B':
			e.wordLeft()
		case 'f', 'F':
			e.wordRight()
		case 127:
			e.deleteWordBack()
		}
		return keyContinue
	case escCSI:
		e.csi.WriteByte(b)
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
			e.esc = escNone
			e.handleCSI(e.csi.String())
		}
		return keyContinue
	}

	switch b {
	case 27:
		e.esc = escStart
	case '\r', '\n':
		return keyAccept
	case 3: // Ctrl+C
		_, _ = fmt.Fprint(e.out, "^C\r\n")
		return keyAbort
	case 4: // Ctrl+D on an empty line
		if len(e.line) == 0 {
			_, _ = fmt.Fprint(e.out, "\r\n")
			return keyAbort
		}
	case 127, 8:
		if e.cursor > 0 {
			e.line = append(e.line[:e.cursor-1], e.line[e.cursor:]...)
			e.cursor--
			e.redraw()
		}
	case 1: // Ctrl+A
		e.cursor = 0
		e.redraw()
	case 5: // Ctrl+E
		e.cursor = len(e.line)
		e.redraw()
	case 23: // Ctrl+W
		e.deleteWordBack()
	default:
		if b >= 32 {
			e.insert(b)
		}
	}
	return keyContinue
}

func (e *lineEditor) insert(b byte) {
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = b
	e.cursor++
	e.redraw()
}

func (e *lineEditor) handleCSI(seq string) {
	switch seq {
	case "A":
		e.historyPrev()
	case "B":
		e.historyNext()
	case "D":
		if e.cursor > 0 {
			e.cursor--
			e.redraw()
		}
	case "C":
		if e.cursor < len(e.line) {
			e.cursor++
			e.redraw()
		}
	case "H":
		e.cursor = 0
		e.redraw()
	case "F":
		e.cursor = len(e.line)
		e.redraw()
	case "3~":
		if e.cursor < len(e.line) {
			e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			e.redraw()
		}
	case "1;5D", "5D":
		e.wordLeft()
	case "1;5C", "5C":
		e.wordRight()
	case "3;5~":
		e.deleteWordForward()
	}
}

func (e *lineEditor) historyPrev() {
	if len(e.history) == 0 {
		return
	}
	if !e.browsing {
		e.draft = string(e.line)
		e.browsing = true
		e.histPos = len(e.history)
	}
	if e.histPos > 0 {
		e.histPos--
		e.setLine(e.history[e.histPos])
	}
}

func (e *lineEditor) historyNext() {
	if !e.browsing {
		return
	}
	if e.histPos < len(e.history)-1 {
		e.histPos++
		e.setLine(e.history[e.histPos])
		return
	}
	e.histPos = len(e.history)
	e.browsing = false
	e.setLine(e.draft)
}

func (e *lineEditor) setLine(s string) {
	e.line = append(e.line[:0], s...)
	e.cursor = len(e.line)
	e.redraw()
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t'
}

// wordStart returns the start of the word before i, skipping blanks.
func (e *lineEditor) wordStart(i int) int {
	for i > 0 && isBlank(e.line[i-1]) {
		i--
	}
	for i > 0 && !isBlank(e.line[i-1]) {
		i--
	}
	return i
}

// wordEnd returns the end of the word after i, skipping blanks.
func (e *lineEditor) wordEnd(i int) int {
	for i < len(e.line) && isBlank(e.line[i]) {
		i++
	}
	for i < len(e.line) && !isBlank(e.line[i]) {
		i++
	}
	return i
}

func (e *lineEditor) wordLeft() {
	e.cursor = e.wordStart(e.cursor)
	e.redraw()
}

func (e *lineEditor) wordRight() {
	e.cursor = e.wordEnd(e.cursor)
	e.redraw()
}

func (e *lineEditor) deleteWordBack() {
	start := e.wordStart(e.cursor)
	e.line = append(e.line[:start], e.line[e.cursor:]...)
	e.cursor = start
	e.redraw()
}

func (e *lineEditor) deleteWordForward() {
	end := e.wordEnd(e.cursor)
	e.line = append(e.line[:e.cursor], e.line[end:]...)
	e.redraw()
}

func (e *lineEditor) redraw() {
	_, _ = fmt.Fprintf(e.out, "\r%s%s\x1b[K", e.prompt, e.line)
	if e.cursor < len(e.line) {
		_, _ = fmt.Fprintf(e.out, "\r%s%s", e.prompt, e.line[:e.cursor])
	}
}

var (
	stdinReader = bufio.NewReader(os.Stdin)
	editor      = newLineEditor(os.Stdout)
)

// readPlainLine reads one line from stdin without editing support.
func readPlainLine(prompt string) (string, error) {
	fmt.Print(prompt)
	s, err := stdinReader.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return trimTrailingNewline(s), nil
}

func trimTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
