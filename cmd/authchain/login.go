package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/authchain/auth"
	"github.com/jonwraymond/authchain/config"
)

type loginFlags struct {
	user       string
	password   string
	certFile   string
	token      string
	assertions []string
}

func loginCmd() *cobra.Command {
	var f loginFlags

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Run one login attempt through the chain",
		Long: `Run one login attempt with the given credentials and print the
committed identity. The password defaults to $AUTHCHAIN_PASSWORD and is
prompted for when stdin is a terminal.`,
		Example: `  authchain login --user alice
  authchain login --cert client.pem
  authchain login --token "$(cat token.jwt)"
  authchain login --assert uniqueId=u-1001 --assert securityName=alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.password == "" {
				f.password = os.Getenv("AUTHCHAIN_PASSWORD")
			}
			if f.user != "" && f.password == "" {
				pw, err := passwordPrompt(f.user)
				if err != nil {
					return err
				}
				f.password = pw
			}
			creds, err := f.credentials()
			if err != nil {
				return err
			}
			if len(creds) == 0 {
				return errors.New("no credentials given")
			}

			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(ctx) }()

			sess, err := rt.Chain.Login(ctx, &auth.LoginRequest{
				Credentials: auth.NewStaticChannel(creds...),
			})
			if err != nil {
				return fmt.Errorf("login failed: %s: %w", auth.ReasonOf(err), err)
			}
			defer sess.Logout(ctx)
			return printSession(cmd.OutOrStdout(), sess)
		},
	}

	cmd.Flags().StringVarP(&f.user, "user", "u", "", "User name for password login")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "Password (env: AUTHCHAIN_PASSWORD)")
	cmd.Flags().StringVar(&f.certFile, "cert", "", "PEM file holding the client certificate chain, leaf first")
	cmd.Flags().StringVar(&f.token, "token", "", "Opaque token")
	cmd.Flags().StringArrayVar(&f.assertions, "assert", nil, "Assertion property as key=value (repeatable)")

	return cmd
}

func (f loginFlags) credentials() ([]auth.Credential, error) {
	var creds []auth.Credential
	if f.user != "" {
		creds = append(creds, auth.PasswordCredential{Username: f.user, Password: f.password})
	}
	if f.certFile != "" {
		data, err := os.ReadFile(f.certFile)
		if err != nil {
			return nil, fmt.Errorf("read certificate: %w", err)
		}
		chain, err := config.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: %w", f.certFile, err)
		}
		creds = append(creds, auth.CertificateCredential{Chain: chain})
	}
	if f.token != "" {
		creds = append(creds, auth.TokenCredential{Bytes: []byte(strings.TrimSpace(f.token))})
	}
	if len(f.assertions) > 0 {
		props, err := parsePairs(f.assertions)
		if err != nil {
			return nil, fmt.Errorf("assert: %w", err)
		}
		creds = append(creds, auth.AssertionCredential{Properties: props})
	}
	return creds, nil
}

// parsePairs parses key=value arguments. Later keys win.
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

// passwordPrompt asks for the password of user on the terminal. Without a
// terminal it returns an empty password.
var passwordPrompt = func(user string) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", nil
	}
	p := promptui.Prompt{
		Label: fmt.Sprintf("Password for %s", user),
		Mask:  '*',
	}
	pw, err := p.Run()
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
		return "", errors.New("login aborted")
	}
	return pw, err
}

type sessionView struct {
	SessionID   string        `json:"session_id"`
	AccessID    string        `json:"access_id"`
	DisplayName string        `json:"display_name"`
	Method      string        `json:"method"`
	Strategy    string        `json:"strategy"`
	Outcomes    []outcomeView `json:"outcomes"`
}

type outcomeView struct {
	Strategy string `json:"strategy"`
	Outcome  string `json:"outcome"`
}

func newSessionView(sess *auth.Session) sessionView {
	v := sessionView{
		SessionID: sess.ID,
		AccessID:  sess.Subject.AccessID().String(),
		Strategy:  sess.CommittedBy,
		Outcomes:  make([]outcomeView, 0, len(sess.Outcomes)),
	}
	if p := sess.Subject.Principal; p != nil {
		v.DisplayName = p.Name
		v.Method = string(p.Method)
	}
	for _, o := range sess.Outcomes {
		v.Outcomes = append(v.Outcomes, outcomeView{Strategy: o.Strategy, Outcome: o.Outcome.String()})
	}
	return v
}

func printSession(w io.Writer, sess *auth.Session) error {
	v := newSessionView(sess)
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table":
		label := color.New(color.FgCyan)
		fmt.Fprintf(w, "%s %s\n", label.Sprint("Access ID:   "), v.AccessID)
		fmt.Fprintf(w, "%s %s\n", label.Sprint("Display Name:"), v.DisplayName)
		fmt.Fprintf(w, "%s %s\n", label.Sprint("Method:      "), v.Method)
		fmt.Fprintf(w, "%s %s\n", label.Sprint("Strategy:    "), v.Strategy)
		for _, o := range v.Outcomes {
			fmt.Fprintf(w, "  %-12s %s\n", o.Strategy, outcomeColor(o.Outcome).Sprint(o.Outcome))
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}

func outcomeColor(outcome string) *color.Color {
	if outcome == auth.Authenticated.String() {
		return color.New(color.FgGreen)
	}
	return color.New(color.FgHiBlack)
}
