// Command gensecret prints random hex key suitable for SECRET_KEY
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const defaultKeyBytesLen = 32

func main() {
	key, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(key)
}

func run(args []string) (string, error) {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	length := fs.IntP("bytes", "b", defaultKeyBytesLen, "Key length in bytes, at least 32 for HS256")
	if err := fs.Parse(args); err != nil {
		return "", err
	}

	if *length < defaultKeyBytesLen {
		return "", fmt.Errorf("key must be at least %d bytes", defaultKeyBytesLen)
	}

	b := make([]byte, *length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
