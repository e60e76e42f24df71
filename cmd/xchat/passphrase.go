package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// readPassphrase returns XCHAT_PASSPHRASE, or prompts for it on the terminal.
// confirm asks twice, for creating a wallet.
func readPassphrase(confirm bool) ([]byte, error) {
	return readSecret("XCHAT_PASSPHRASE", "Passphrase", confirm)
}

// readNewPassphrase returns XCHAT_NEW_PASSPHRASE, or prompts twice.
func readNewPassphrase() ([]byte, error) {
	return readSecret("XCHAT_NEW_PASSPHRASE", "New passphrase", true)
}

func readSecret(envVar, prompt string, confirm bool) ([]byte, error) {
	if p := os.Getenv(envVar); p != "" {
		return []byte(p), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%s is not set and stdin is not a terminal", envVar)
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if !confirm {
		return first, nil
	}

	fmt.Fprintf(os.Stderr, "Repeat %s: ", prompt)
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if string(first) != string(second) {
		return nil, errors.New("passphrases do not match")
	}
	return first, nil
}
