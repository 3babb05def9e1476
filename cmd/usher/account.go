// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/usherauth/usher/internal/account"
	"github.com/usherauth/usher/internal/config"
)

// storeOpener is replaced in tests.
var storeOpener = openStore

// NewAccountCmd creates the account subcommand.
func NewAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Operator account administration",
		Long: `Register accounts, issue password reset tokens, and inspect accounts
directly against the configured store.`,
	}

	d := config.Default()
	pf := cmd.PersistentFlags()
	pf.String("store", d.Store, "account store backend (memory, postgres or redis)")
	pf.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	pf.String("redis-url", "", "Redis URL (default: $REDIS_URL)")
	pf.String("hasher", d.Hasher, "password hasher (argon2id or bcrypt)")
	pf.Int("bcrypt-cost", d.BcryptCost, "bcrypt work factor")

	cmd.AddCommand(newAccountRegisterCmd())
	cmd.AddCommand(newAccountResetCmd())
	cmd.AddCommand(newAccountInspectCmd())
	return cmd
}

type accountEnv struct {
	store  account.Store
	svc    *account.Service
	hasher account.PasswordHasher
	close  func()
}

func openAccountEnv(cmd *cobra.Command) (*accountEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, closeStore, err := storeOpener(commandContext(cmd), cfg)
	if err != nil {
		return nil, err
	}
	svc, hasher, err := newAuthService(cfg, st)
	if err != nil {
		closeStore()
		return nil, err
	}
	return &accountEnv{store: st, svc: svc, hasher: hasher, close: closeStore}, nil
}

func newAccountRegisterCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an account",
		Long: `Register an account. The password is prompted for on a terminal,
or read from the first line of standard input otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			env, err := openAccountEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			acct, err := env.svc.Register(commandContext(cmd), email, password)
			if err != nil {
				return err
			}
			cmd.Printf("Registered %s (id %s)\n", acct.Email, acct.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountResetCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Issue a password reset token",
		Long:  `Issue a password reset token for an account and print it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openAccountEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			token, err := env.svc.RequestPasswordReset(commandContext(cmd), email)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountInspectCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show account state without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openAccountEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			acct, err := env.store.FindByEmail(commandContext(cmd), account.NormalizeEmail(email))
			if err != nil {
				return err
			}
			cmd.Print(formatInspect(acct, env.hasher.NeedsUpgrade(acct.PasswordDigest)))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func formatInspect(acct *account.Account, needsRehash bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id:             %s\n", acct.ID)
	fmt.Fprintf(&b, "email:          %s\n", acct.Email)
	fmt.Fprintf(&b, "created:        %s\n", acct.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "session active: %t\n", acct.HasSession())
	fmt.Fprintf(&b, "reset pending:  %t\n", acct.HasPendingReset())
	fmt.Fprintf(&b, "needs rehash:   %t\n", needsRehash)
	return b.String()
}

// readPassword prompts twice on a terminal, or reads one line otherwise.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return promptPassword(cmd, int(f.Fd()))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", account.ErrEmptyPassword
	}
	return password, nil
}

func promptPassword(cmd *cobra.Command, fd int) (string, error) {
	read := func(prompt string) (string, error) {
		cmd.PrintErr(prompt)
		b, err := term.ReadPassword(fd)
		cmd.PrintErrln()
		if err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		return string(b), nil
	}

	first, err := read("Password: ")
	if err != nil {
		return "", err
	}
	second, err := read("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", oops.Code("PASSWORD_MISMATCH").Errorf("passwords do not match")
	}
	return first, nil
}
