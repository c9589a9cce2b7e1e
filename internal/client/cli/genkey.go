package cli

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/memvault/internal/common"
	"github.com/dmitrijs2005/memvault/internal/config"
	"github.com/dmitrijs2005/memvault/internal/cryptox"
	"github.com/dmitrijs2005/memvault/internal/flagx"
)

const saltSize = 16

func (a *App) genKey(args []string) error {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fromPassphrase := fs.Bool("passphrase", false, "derive the key from a passphrase")
	saltB64 := fs.String("salt", "", "base64 salt for -passphrase; random when empty")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-passphrase", "-salt"})); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if !*fromPassphrase {
		key := cryptox.GenerateKey()
		defer common.WipeByteArray(key)
		fmt.Fprintf(a.out, "%s=%s\n", config.EnvMasterKey, base64.StdEncoding.EncodeToString(key))
		return nil
	}

	salt := common.GenerateRandByteArray(saltSize)
	if *saltB64 != "" {
		var err error
		if salt, err = base64.StdEncoding.DecodeString(*saltB64); err != nil || len(salt) == 0 {
			return fmt.Errorf("%w: invalid salt", ErrUsage)
		}
	}

	pass, err := GetNewPassphrase(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	key := cryptox.DeriveMasterKey(pass, salt)
	defer common.WipeByteArray(key)

	fmt.Fprintf(a.out, "%s=%s\n", config.EnvMasterKey, base64.StdEncoding.EncodeToString(key))
	fmt.Fprintf(a.out, "salt=%s\n", base64.StdEncoding.EncodeToString(salt))
	return nil
}
