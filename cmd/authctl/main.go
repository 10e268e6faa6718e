// Command authctl performs operator tasks against the auth store.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"afiliados.org/internal/app"
	"afiliados.org/internal/auth"
	"afiliados.org/internal/config"
	"afiliados.org/internal/janitor"
	"afiliados.org/internal/obs"
)

const usage = `usage: authctl <command> [flags]

commands:
  hash             print a credential digest for a password read from stdin
  create-account   create an account
  revoke-sessions  revoke every refresh token of an account
  purge            remove expired refresh tokens and denylist entries`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := obs.NewLogger("afiliados-authctl", cfg.LogLevel, "text", os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "hash":
		err = runHash(args, os.Stdin, os.Stdout)
	case "create-account":
		err = withService(ctx, cfg, log, func(svc *auth.Service, _ *app.Deps) error {
			return runCreateAccount(ctx, svc, args, os.Stdin, os.Stdout)
		})
	case "revoke-sessions":
		err = withService(ctx, cfg, log, func(svc *auth.Service, _ *app.Deps) error {
			return runRevokeSessions(ctx, svc, args, os.Stdout)
		})
	case "purge":
		err = withService(ctx, cfg, log, func(_ *auth.Service, deps *app.Deps) error {
			res, err := janitor.New(deps.Store, deps.Deny, janitor.WithLogger(log)).RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "purged refresh=%d denylist=%d\n", res.Refresh, res.Denylist)
			return nil
		})
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).WithField("command", cmd).Error("authctl failed")
		os.Exit(1)
	}
}

func withService(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, fn func(*auth.Service, *app.Deps) error) error {
	deps, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()
	svc, err := app.NewService(cfg, deps, log)
	if err != nil {
		return err
	}
	return fn(svc, deps)
}

func runHash(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	legacy := fs.Bool("legacy", false, "produce a bcrypt digest instead of argon2id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readSecret(in)
	if err != nil {
		return err
	}
	h := auth.NewHasher()
	var digest, alg string
	if *legacy {
		digest, alg, err = h.HashLegacy(password)
	} else {
		digest, alg, err = h.Hash(password)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\t%s\n", alg, digest)
	return nil
}

func runCreateAccount(ctx context.Context, svc *auth.Service, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("create-account", flag.ContinueOnError)
	handle := fs.String("handle", "", "login handle")
	email := fs.String("email", "", "email address")
	name := fs.String("name", "", "display name")
	roles := fs.String("roles", "", "comma separated roles; suffix :entity sets the entity flag")
	org := fs.String("org", "", "comma separated org levels, outermost first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readSecret(in)
	if err != nil {
		return err
	}
	acct, err := svc.Register(ctx, auth.RegisterRequest{
		Handle:      *handle,
		Email:       *email,
		Password:    password,
		DisplayName: *name,
		Org:         parseOrg(*org),
		Roles:       parseRoles(*roles),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, acct.ID)
	return nil
}

func runRevokeSessions(ctx context.Context, svc *auth.Service, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("revoke-sessions", flag.ContinueOnError)
	account := fs.String("account", "", "account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	n, err := svc.LogoutAll(ctx, *account)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "revoked %d refresh tokens\n", n)
	return nil
}

// readSecret reads the first line of in so passwords stay out of argv.
func readSecret(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password must be provided on stdin")
	}
	return line, nil
}

func parseRoles(raw string) []auth.RoleAssignment {
	var out []auth.RoleAssignment
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, kind, _ := strings.Cut(part, ":")
		out = append(out, auth.RoleAssignment{Name: name, IsEntity: kind == "entity"})
	}
	return out
}

func parseOrg(raw string) auth.OrgHierarchy {
	var levels [4]string
	for i, part := range strings.SplitN(raw, ",", 4) {
		levels[i] = strings.TrimSpace(part)
	}
	return auth.OrgHierarchy{Level1: levels[0], Level2: levels[1], Level3: levels[2], Level4: levels[3]}
}
