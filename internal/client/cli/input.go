package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/dmitrijs2005/memvault/internal/common"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var ErrPassphraseMismatch = errors.New("passphrases do not match")

// GetPassword prints prompt to w and reads a line from the terminal without
// echo. The caller should wipe the result.
func GetPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// GetNewPassphrase reads a passphrase twice and fails unless both match
// and are not empty.
func GetNewPassphrase(w io.Writer) ([]byte, error) {
	first, err := GetPassword(w, "Enter passphrase: ")
	if err != nil {
		return nil, err
	}
	second, err := GetPassword(w, "Repeat passphrase: ")
	if err != nil {
		common.WipeByteArray(first)
		return nil, err
	}
	defer common.WipeByteArray(second)

	if len(first) == 0 || !bytes.Equal(first, second) {
		common.WipeByteArray(first)
		return nil, ErrPassphraseMismatch
	}
	return first, nil
}
