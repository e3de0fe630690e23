package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const consoleHelp = `Available Commands:
/quit  - Quits and shuts down the server.
/help  - Displays this help message.`

// console reads administrative commands until /quit or end of input.
// It reports whether /quit was entered.
func console(in io.Reader, out io.Writer) bool {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "/quit":
			fmt.Fprintln(out, "Shutting down the server...")
			return true
		case "/help":
			fmt.Fprintln(out, consoleHelp)
		case "":
		default:
			fmt.Fprintln(out, "Enter '/quit' to stop the server or '/help' for instructions")
		}
	}
	return false
}
