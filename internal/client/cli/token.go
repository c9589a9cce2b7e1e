package cli

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/memvault/internal/server/auth"
)

func (a *App) token(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("%w: token <userId>", ErrUsage)
	}

	tok, err := auth.NewTokens(a.config.JWTSecret, a.config.TokenValidity).Issue(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, tok)
	return nil
}
