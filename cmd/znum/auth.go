package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"znum/pkg/auth"
	"znum/pkg/logger"
	"znum/pkg/reader"
	"znum/pkg/session"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage reader credentials and the saved session",
	Long: `Manage stored reader credentials and the saved login session.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables ZNUM_USERNAME / ZNUM_PASSWORD (read-only)`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store credentials",
	Long: `Log in to the reader, save the session cookies and store the
credentials so later downloads can log in again when the session expires.

The password is prompted for when --password is not given.`,
	Example: `  znum auth login --username reader@example.com`,
	Args:    cobra.NoArgs,
	RunE:    runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [username]",
	Short: "Clear the session and remove stored credentials",
	Long: `Clear the saved session. With a username, also remove that account's
stored credentials; with --all, remove every stored account.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored accounts and session state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var logoutAll bool

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)

	loginCmd.Flags().StringVarP(&username, "username", "u", "", "reader username")
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "reader password")
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove all stored accounts")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(username)
	if name == "" {
		fmt.Fprint(console.Writer(), "Username: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		name = strings.TrimSpace(line)
	}
	pass := password
	if pass == "" {
		if pass, err = promptPassword(); err != nil {
			return err
		}
	}
	account := &auth.Account{Username: name, Password: pass}

	sess, err := session.New(cfg.Reader.BaseURL, cfg.CookiePath())
	if err != nil {
		return err
	}
	client := reader.NewClient(cfg, sess, logger.GetLogger())
	if err := client.Login(context.Background(), account.Username, account.Password); err != nil {
		return err
	}
	if err := sess.Save(); err != nil {
		return err
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Store(account); err != nil {
		return err
	}

	console.Success(fmt.Sprintf("✓ Logged in as %s; session saved to %s", account.Username, sess.Path()))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	sess, err := session.New(cfg.Reader.BaseURL, cfg.CookiePath())
	if err != nil {
		return err
	}
	if err := sess.Invalidate(); err != nil {
		return err
	}
	console.Success("✓ Session cleared")

	if len(args) == 0 && !logoutAll {
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if logoutAll {
		if err := manager.DeleteAll(); err != nil {
			return err
		}
		console.Success("✓ All stored accounts removed")
		return nil
	}
	if err := manager.Delete(args[0]); err != nil {
		return err
	}
	console.Success("✓ Credentials removed for " + args[0])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	sess, err := session.New(cfg.Reader.BaseURL, cfg.CookiePath())
	if err != nil {
		return err
	}
	loaded, err := sess.Load()
	switch {
	case err != nil:
		console.Warning("Session file unreadable: " + err.Error())
	case loaded && sess.IsAuthenticated():
		console.Info("Session", "saved at "+sess.Path())
	default:
		console.Info("Session", "none")
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		dir, _ := auth.ConfigDir()
		auth.WriteLoginGuide(console.Writer(), dir)
		return nil
	}
	for _, account := range accounts {
		safe := auth.SanitizeAccount(account)
		console.Info("Account", fmt.Sprintf("%s (password %s, updated %s)",
			safe.Username, safe.Password, safe.LastModified.Format("2006-01-02 15:04")))
	}
	return nil
}

// resolveAccount picks the credentials for a download: explicit flags, then
// the credential store, prompting for a missing password on a terminal.
func resolveAccount(name, pass string) (*auth.Account, error) {
	if name != "" && pass != "" {
		return &auth.Account{Username: name, Password: pass}, nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	var account *auth.Account
	if name != "" {
		account, err = manager.Retrieve(name)
	} else {
		account, err = manager.RetrieveDefault()
	}
	if err == nil {
		return account, nil
	}

	if name != "" && term.IsTerminal(int(os.Stdin.Fd())) {
		pass, err := promptPassword()
		if err != nil {
			return nil, err
		}
		return &auth.Account{Username: name, Password: pass}, nil
	}

	dir, _ := auth.ConfigDir()
	auth.WriteLoginGuide(os.Stderr, dir)
	return nil, errors.New("login required but no reader credentials are available")
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("password required; pass --password or run in a terminal")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("password cannot be empty")
	}
	return string(raw), nil
}
