package main

import (
	"context"
	"fmt"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

// addUser updates or creates an active, verified account.Account with the given role.
func (cli *commandLine) addUser(name, email, role, pwd string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)
	role = core.CleanString(role, true /* lower */)
	if !core.IsGrantableRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}
	if err := cli.validate.Var(email, "email"); err != nil {
		return fmt.Errorf("invalid email %q", email)
	}

	now := core.Now()
	acc, err := cli.accounts.GetAccount(ctx, account.GetFilter{Email: email})
	switch err {
	case nil:
	case account.ErrNotFound:
		acc = account.Account{Email: email, CreatedAt: now}
	default:
		return err
	}

	acc.Name = name
	acc.Role = role
	acc.Status = account.StatusActive
	if acc.EmailVerifiedAt == nil {
		acc.EmailVerifiedAt = &now
	}
	acc.UpdatedAt = now
	if err = acc.SetPassword(pwd); err != nil {
		return err
	}

	if acc.ID != "" {
		_, err = cli.accounts.UpdateAccount(ctx, acc)
		return err
	}
	if acc, err = cli.accounts.CreateAccount(ctx, acc); err != nil {
		return err
	}
	_, err = cli.accounts.CreateProfile(ctx, account.Profile{AccountID: acc.ID, Type: role, CreatedAt: now, UpdatedAt: now})
	return err
}
