package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const defaultSecretBytes = 32

// Minimal length accepted for HS256 signing key
const minSecretBytes = 32

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	length := fs.IntP("length", "n", defaultSecretBytes, "Secret length in bytes")
	format := fs.StringP("format", "f", "hex", "Output format (hex, base64)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *length < minSecretBytes {
		return fmt.Errorf("length must be at least %d bytes", minSecretBytes)
	}

	b := make([]byte, *length)
	if _, err := rand.Read(b); err != nil {
		return err
	}

	switch *format {
	case "hex":
		_, err := fmt.Fprintln(out, hex.EncodeToString(b))
		return err
	case "base64":
		_, err := fmt.Fprintln(out, base64.RawURLEncoding.EncodeToString(b))
		return err
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}
