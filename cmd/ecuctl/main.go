// Command ecuctl exports and imports ECU data from a terminal.
//
// Usage:
//
//	ecuctl [-api URL] login -u USER [-p PASSWORD]
//	ecuctl signup -u USER [-p PASSWORD]
//	ecuctl logout
//	ecuctl whoami
//	ecuctl export [-o FILE]
//	ecuctl import FILE
//
// The credential is kept in ECU_CREDENTIAL_FILE between invocations.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"ecu/internal/api"
	"ecu/internal/cli"
	"ecu/internal/config"
	"ecu/internal/core"
	"ecu/internal/log"
	"ecu/internal/session"
	"ecu/internal/transfer"
)

var errUsage = errors.New("usage: ecuctl [-api URL] <login|signup|logout|whoami|export|import> [flags]")

type app struct {
	client   *api.Client
	sess     *session.Session
	transfer *transfer.Service
	credFile string
	logger   *log.Logger

	stdin          io.Reader
	stdout, stderr io.Writer
}

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()

	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(cfg.LogLevel)
	lc.Format = cfg.LogFormat
	lc.Component = log.ComponentCLI
	lc.Output = os.Stderr
	logger := log.New(lc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "ecuctl:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ecuctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("api", cfg.APIBaseURL, "API base URL")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	clientOpts := []api.Option{api.WithLogger(logger)}
	if cfg.APITimeout > 0 {
		clientOpts = append(clientOpts, api.WithTimeout(cfg.APITimeout))
	}
	client := api.New(*baseURL, clientOpts...)

	a := &app{
		client:   client,
		sess:     session.New(client),
		transfer: transfer.New(client, transfer.WithLogger(logger)),
		credFile: cfg.CredentialFile,
		logger:   logger,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
	}
	if err := a.restore(); err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "login":
		return a.authenticate(ctx, cmd, rest, a.sess.Login)
	case "signup":
		return a.authenticate(ctx, cmd, rest, a.sess.Signup)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "export":
		return a.export(ctx, rest)
	case "import":
		return a.importFile(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// restore seeds the session from the credential file and keeps the file
// in step with later logins and logouts.
func (a *app) restore() error {
	b, err := os.ReadFile(a.credFile)
	switch {
	case err == nil:
		a.sess.Restore(api.Credential(strings.TrimSpace(string(b))))
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read credential file: %w", err)
	}

	a.sess.Subscribe(func(loggedIn bool) {
		if loggedIn {
			if err := a.saveCredential(); err != nil {
				a.logger.Warn("Failed to save credential", log.FieldError, err, "path", a.credFile)
			}
			return
		}
		a.forgetCredential()
	})
	return nil
}

func (a *app) saveCredential() error {
	if err := os.MkdirAll(filepath.Dir(a.credFile), 0o700); err != nil {
		return err
	}
	return os.WriteFile(a.credFile, []byte(a.sess.Credential()+"\n"), 0o600)
}

func (a *app) forgetCredential() {
	if err := os.Remove(a.credFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("Failed to remove credential", log.FieldError, err, "path", a.credFile)
	}
}

func (a *app) authenticate(ctx context.Context, name string, args []string, do func(context.Context, core.NewUser) error) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *username == "" {
		return fmt.Errorf("%s needs -u: %w", name, errUsage)
	}
	if *password == "" {
		fmt.Fprint(a.stderr, "Password: ")
		line, err := bufio.NewReader(a.stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	if err := do(ctx, core.NewUser{Username: *username, Password: *password}); err != nil {
		return errors.New(api.Message(err, "Failed to "+name))
	}
	// The subscriber only fires on a state change; a re-login replaces the
	// credential without one.
	if err := a.saveCredential(); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	fmt.Fprintf(a.stdout, "Logged in as %s\n", *username)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if !a.sess.Credential().Valid() {
		fmt.Fprintln(a.stdout, "Not logged in")
		return nil
	}
	_, err := a.sess.Logout(ctx)
	a.forgetCredential()
	if err != nil {
		a.logger.Warn("Logout request failed", log.FieldOperation, log.OpLogout, log.FieldError, err)
	}
	fmt.Fprintln(a.stdout, "Logged out")
	return nil
}

// requireUser confirms the stored credential; a rejected one is removed.
func (a *app) requireUser(ctx context.Context) (core.User, error) {
	if !a.sess.Credential().Valid() {
		return core.User{}, errors.New("not logged in, run: ecuctl login -u USER")
	}
	u, err := a.sess.Check(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			a.forgetCredential()
			return core.User{}, errors.New("session expired, run: ecuctl login -u USER")
		}
		return core.User{}, errors.New(api.Message(err, "Failed to check session"))
	}
	return u, nil
}

func (a *app) whoami(ctx context.Context) error {
	u, err := a.requireUser(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, u.Username)
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	out := fs.String("o", "", "output file (default: ECU-export-<timestamp>.json, - for stdout)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if _, err := a.requireUser(ctx); err != nil {
		return err
	}

	if *out == "-" {
		_, err := a.transfer.WriteExport(ctx, a.sess.Credential(), a.stdout)
		return exportError(err)
	}

	name, body, err := a.transfer.ExportFile(ctx, a.sess.Credential())
	if err != nil {
		return exportError(err)
	}
	path := *out
	if path == "" {
		path = name
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(a.stdout, "Exported to %s\n", path)
	return nil
}

func exportError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(api.Message(err, "Failed to export data"))
}

func (a *app) importFile(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("import needs exactly one file: %w", errUsage)
	}
	if _, err := a.requireUser(ctx); err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	if err := a.transfer.Import(ctx, a.sess.Credential(), f); err != nil {
		if errors.Is(err, transfer.ErrMalformedDocument) || errors.Is(err, transfer.ErrDocumentTooLarge) {
			return err
		}
		return errors.New(api.Message(err, "Failed to import data"))
	}
	fmt.Fprintf(a.stdout, "Imported %s\n", args[0])
	return nil
}
