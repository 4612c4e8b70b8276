package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

// cmdUserPassword reads a password from stdin and prints its bcrypt
// hash — the only user-facing operation this boundary-only surface
// exposes (spec's Non-goals exclude a full user/permission model).
func cmdUserPassword(out, errOut io.Writer, args []string) int {
	flagSet := flag.NewFlagSet("user password", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	cost := flagSet.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	remaining := flagSet.Args()
	username := "(stdin)"
	if len(remaining) > 0 {
		username = remaining[0]
	}

	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		fmt.Fprintln(errOut, "error: reading password:", err)
		return 1
	}
	password = trimNewline(password)
	if password == "" {
		fmt.Fprintln(errOut, "error: empty password")
		return 1
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), *cost)
	if err != nil {
		fmt.Fprintln(errOut, "error: hashing password:", err)
		return 1
	}

	fmt.Fprintf(out, "%s\t%s\n", username, hash)
	return 0
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
