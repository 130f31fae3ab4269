package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/marketoracle/internal/crypto"
)

var encryptKeyFlags struct {
	out         string
	passwordEnv string
}

var encryptKeyCmd = &cobra.Command{
	Use:   "encrypt-key",
	Short: "Seal a resolver private key into an encrypted key file",
	Long: "Reads a hex private key from stdin and writes an encrypted key file usable\n" +
		"as wallet.encrypted_key_path. The password is taken from an environment variable.",
	RunE: runEncryptKey,
}

func init() {
	f := encryptKeyCmd.Flags()
	f.StringVar(&encryptKeyFlags.out, "out", "", "output key file path (required)")
	f.StringVar(&encryptKeyFlags.passwordEnv, "password-env", "ORACLE_WALLET_KEY_PASSWORD", "environment variable holding the key password")

	_ = encryptKeyCmd.MarkFlagRequired("out")
}

func runEncryptKey(cmd *cobra.Command, _ []string) error {
	password := os.Getenv(encryptKeyFlags.passwordEnv)
	if password == "" {
		return fmt.Errorf("%s is not set", encryptKeyFlags.passwordEnv)
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read private key from stdin: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return errors.New("empty private key on stdin")
	}

	sealed, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(encryptKeyFlags.out, sealed, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "encrypted key written to %s\n", encryptKeyFlags.out)
	return nil
}
