package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteLoginGuide prints where credentials are looked up and how to add them
func WriteLoginGuide(w io.Writer, configDir string) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "READER CREDENTIALS")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "A reader account is needed to open documents. Credentials are looked up in:")
	fmt.Fprintln(w, "  1. the system keychain (service \""+keyringService+"\")")
	fmt.Fprintf(w, "  2. %s/credentials.enc, encrypted with %s or %s/%s\n",
		configDir, PassphraseEnv, configDir, passphraseFile)
	fmt.Fprintf(w, "  3. the %s and %s environment variables\n", UsernameEnv, PasswordEnv)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Save an account with:")
	fmt.Fprintln(w, "  znum auth login --username <name>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The session cookies obtained at login are kept separately in the work")
	fmt.Fprintln(w, "directory and are removed when the reader reports an expired session.")
	fmt.Fprintln(w, rule)
}
