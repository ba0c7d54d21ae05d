package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/invite"
)

func (cli *commandLine) createInviteCode(nc invite.NewCode) error {
	if err := nc.Validate(cli.validate); err != nil {
		return err
	}
	c, err := cli.ledger.Create(context.Background(), system, nc)
	if err != nil {
		return err
	}
	fmt.Printf("created invitation code %s (%s)\n", c.Code, c.Role)
	return nil
}

func intPtr(i int) *int { return &i }

// defaultCodes are the invitation codes every fresh installation starts with.
func defaultCodes() []invite.NewCode {
	endOf2026 := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
	return []invite.NewCode{
		{Code: "TEACHER2026", Role: core.RoleTeacher, UsageLimit: intPtr(100), ExpiresAt: &endOf2026},
		{Code: "STUDENT2026", Role: core.RoleStudent, UsageLimit: intPtr(1000), ExpiresAt: &endOf2026},
		{Code: "GUEST_PASS", Role: core.RoleStudent, UsageLimit: intPtr(50)},
		{Code: "ADMIN2026", Role: core.RoleAdmin, UsageLimit: intPtr(5)},
	}
}

// seed creates the default invitation codes, skipping those that already exist.
func (cli *commandLine) seed() error {
	ctx := context.Background()
	for _, nc := range defaultCodes() {
		_, err := cli.ledger.Create(ctx, system, nc)
		var vErr *core.ValidationError
		switch {
		case err == nil:
			fmt.Printf("created invitation code %s\n", nc.Code)
		case errors.As(err, &vErr):
			fmt.Printf("skipped invitation code %s: %v\n", nc.Code, err)
		default:
			return errors.Wrapf(err, "seeding %s", nc.Code)
		}
	}
	return nil
}
