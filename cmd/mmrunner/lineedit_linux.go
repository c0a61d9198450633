//go:build linux

package main

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// readInteractiveLine reads a line with editing and history when stdin is a
// terminal. It returns io.EOF on Ctrl+C or Ctrl+D.
func readInteractiveLine(prompt string) (string, error) {
	if !isTTY() {
		return readPlainLine(prompt)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *oldState
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	editor.begin(prompt)
	var buf [16]byte
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			switch editor.feed(b) {
			case keyAccept:
				return editor.accept(), nil
			case keyAbort:
				return "", io.EOF
			}
		}
	}
}
