package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-secret":
		return runAdminHashSecret(args[1:], os.Stdin, os.Stdout)
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: alarmrelay admin <command> [options]

Commands:
  hash-secret   Print a bcrypt hash of a shared secret for auth.secret_hash
  help          Show this help message

Examples:
  alarmrelay admin hash-secret
  echo -n "$SECRET" | alarmrelay admin hash-secret --stdin
  alarmrelay admin hash-secret --cost 12
`)
}

func runAdminHashSecret(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-secret", flag.ContinueOnError)
	fromStdin := fs.Bool("stdin", false, "read the secret from standard input instead of prompting")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		return fmt.Errorf("--cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	var secret string
	if *fromStdin {
		b, err := io.ReadAll(io.LimitReader(stdin, 1024))
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = strings.TrimRight(string(b), "\r\n")
	} else {
		var err error
		secret, err = promptPassword("Shared secret: ")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		confirm, err := promptPassword("Confirm secret: ")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		if secret != confirm {
			return errors.New("secrets do not match")
		}
	}
	if secret == "" {
		return errors.New("secret must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), *cost)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(hash))
	return err
}

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
