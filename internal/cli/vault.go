package cli

import (
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/omnipost/internal/vault"
)

// PasswordEnv — переменная окружения с паролем, если --password не задан.
const PasswordEnv = "OMNIPOST_PASSWORD"

// sealed — результат vault encrypt.
type sealed struct {
	Salt        string            `json:"salt"`
	Credentials map[string]string `json:"credentials"`
}

// NewVaultCmd создаёт группу команд для шифрования credentials.
func NewVaultCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Encrypt and decrypt instance credentials",
	}

	cmd.AddCommand(
		newVaultEncryptCmd(outputFn),
		newVaultDecryptCmd(outputFn),
	)

	return cmd
}

func newVaultEncryptCmd(outputFn func() *Output) *cobra.Command {
	var password, salt string

	cmd := &cobra.Command{
		Use:   "encrypt KEY=VALUE...",
		Short: "Encrypt credential values with a password-derived key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			values, err := parsePairs(args)
			if err != nil {
				return err
			}
			rawSalt, err := decodeSalt(salt)
			if err != nil {
				return err
			}

			tokens, usedSalt, err := vault.EncryptMap(values, resolvePassword(password), rawSalt)
			if err != nil {
				return err
			}

			result := sealed{
				Salt:        base64.StdEncoding.EncodeToString(usedSalt),
				Credentials: tokens,
			}
			if !out.JSONMode() {
				out.Success("Salt: " + result.Salt)
			}
			return out.Print([]string{"KEY", "TOKEN"}, pairRows(tokens), result)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password (defaults to $"+PasswordEnv+")")
	cmd.Flags().StringVar(&salt, "salt", "", "Base64 salt to reuse (a new one is generated if empty)")

	return cmd
}

func newVaultDecryptCmd(outputFn func() *Output) *cobra.Command {
	var password, salt string

	cmd := &cobra.Command{
		Use:   "decrypt KEY=TOKEN...",
		Short: "Decrypt credential tokens",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			tokens, err := parsePairs(args)
			if err != nil {
				return err
			}
			rawSalt, err := decodeSalt(salt)
			if err != nil {
				return err
			}

			values, err := vault.DecryptMap(tokens, resolvePassword(password), rawSalt)
			if err != nil {
				return err
			}
			return out.Print([]string{"KEY", "VALUE"}, pairRows(values), values)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password (defaults to $"+PasswordEnv+")")
	cmd.Flags().StringVar(&salt, "salt", "", "Base64 salt (required)")
	cmd.MarkFlagRequired("salt")

	return cmd
}

func resolvePassword(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(PasswordEnv)
}

func decodeSalt(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %w", err)
	}
	return raw, nil
}

// parsePairs разбирает аргументы вида KEY=VALUE.
// Значение может содержать "=" (base64-паддинг токенов).
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pair %q: expected KEY=VALUE", arg)
		}
		out[key] = value
	}
	return out, nil
}

func pairRows(m map[string]string) [][]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k, m[k]}
	}
	return rows
}
