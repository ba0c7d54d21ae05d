package main

import (
	"context"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

// resetPassword sets a new password and invalidates every issued token.
func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	acc, err := cli.accounts.GetAccount(ctx, account.GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		return err
	}
	if err = acc.SetPassword(pwd); err != nil {
		return err
	}
	acc.UpdatedAt = core.Now()
	if _, err = cli.accounts.UpdateAccount(ctx, acc); err != nil {
		return err
	}
	_, err = cli.accounts.BumpSessionVersion(ctx, acc.ID)
	return err
}
