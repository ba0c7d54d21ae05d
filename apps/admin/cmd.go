package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/invite"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")

	// system identifies actions taken from the command line in the audit trail.
	system = core.Caller{Name: "admin-cli"}
)

type commandLine struct {
	db       *sql.DB
	accounts account.Repository
	ledger   *invite.Ledger
	validate *validator.Validate
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, redo, ...)")
	fmt.Println("  adduser -email EMAIL -name NAME [-role ROLE] - create or update an active, verified account")
	fmt.Println("  resetpassword -email EMAIL - reset an account's password and revoke its sessions")
	fmt.Println("  invitecode -code CODE -role ROLE [-limit N] [-expires DATE] - create an invitation code")
	fmt.Println("  seed - create the default invitation codes")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserEmail := addUserCmd.String("email", "", "The account's email. The password will be prompted next.")
	addUserName := addUserCmd.String("name", "", "The account's display name.")
	addUserRole := addUserCmd.String("role", core.RoleAdmin, "One of student, teacher, admin.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The account's email. The password will be prompted next.")

	inviteCodeCmd := flag.NewFlagSet("invitecode", flag.ContinueOnError)
	inviteCode := inviteCodeCmd.String("code", "", "The code, letters, digits and underscores only.")
	inviteRole := inviteCodeCmd.String("role", "", "The role granted on registration: student, teacher or admin.")
	inviteLimit := inviteCodeCmd.Int("limit", 0, "Maximum number of redemptions. 0 means unlimited.")
	inviteExpires := inviteCodeCmd.String("expires", "", "Expiry, as YYYY-MM-DD or RFC 3339. Empty means never.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserEmail == "" || *addUserName == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserEmail, *addUserRole, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	case "invitecode":
		if err := inviteCodeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *inviteCode == "" || *inviteRole == "" {
			inviteCodeCmd.Usage()
			return errHelp
		}
		nc := invite.NewCode{Code: *inviteCode, Role: *inviteRole}
		if *inviteLimit > 0 {
			nc.UsageLimit = inviteLimit
		}
		if *inviteExpires != "" {
			exp, err := parseExpiry(*inviteExpires)
			if err != nil {
				return err
			}
			nc.ExpiresAt = &exp
		}
		return cli.createInviteCode(nc)

	case "seed":
		return cli.seed()

	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// parseExpiry accepts a date (end of that day, UTC) or an RFC 3339 timestamp.
func parseExpiry(s string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d.Add(24*time.Hour - time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t.UTC(), nil
}
