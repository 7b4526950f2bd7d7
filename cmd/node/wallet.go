package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"powledger/wallet"
)

const passwordEnv = "POWLEDGER_WALLET_PASSWORD"

type walletOptions struct {
	*rootOptions
	path         string
	passwordFile string
}

func newWalletCommand(root *rootOptions) *cobra.Command {
	opts := &walletOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the encrypted key store",
	}
	cmd.PersistentFlags().StringVar(&opts.path, "wallet", "", "wallet file (defaults to wallet.path from config)")
	cmd.PersistentFlags().StringVar(&opts.passwordFile, "password-file", "", "read the password from this file instead of "+passwordEnv)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create a wallet with one identity",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, password, err := opts.resolve()
				if err != nil {
					return err
				}
				ks, err := wallet.Create(path, password, wallet.DefaultKDF)
				if err != nil {
					return err
				}
				defer ks.Close()
				id, err := ks.NewIdentity()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wallet %s created at %s\naddress %s\n", ks.ID(), path, id.Address())
				return nil
			},
		},
		&cobra.Command{
			Use:   "new-identity",
			Short: "Add a key pair to the wallet",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ks, err := opts.open()
				if err != nil {
					return err
				}
				defer ks.Close()
				id, err := ks.NewIdentity()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id.Address())
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List wallet identities",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ks, err := opts.open()
				if err != nil {
					return err
				}
				defer ks.Close()
				ids, err := ks.Identities()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ADDRESS\tCREATED")
				for _, id := range ids {
					fmt.Fprintf(w, "%s\t%s\n", id.Address(), id.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			},
		},
	)
	return cmd
}

func (o *walletOptions) resolve() (path, password string, err error) {
	path = o.path
	if path == "" {
		cfg, err := o.loadConfig()
		if err != nil {
			return "", "", err
		}
		path = cfg.Wallet.Path
	}
	password, err = walletPassword(o.passwordFile)
	return path, password, err
}

func (o *walletOptions) open() (*wallet.Keystore, error) {
	path, password, err := o.resolve()
	if err != nil {
		return nil, err
	}
	return wallet.Open(path, password)
}

// walletPassword reads the password from file, or from the environment
// when file is empty. A trailing newline in the file is ignored.
func walletPassword(file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	password := os.Getenv(passwordEnv)
	if password == "" {
		return "", fmt.Errorf("%w: set %s or pass --password-file", wallet.ErrEmptyPassword, passwordEnv)
	}
	return password, nil
}

func openOrCreateWallet(path, password string) (*wallet.Keystore, error) {
	ks, err := wallet.Open(path, password)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		return wallet.Create(path, password, wallet.DefaultKDF)
	}
	return ks, err
}
