// coopctl exercises the portal client from the terminal: credential login
// with interactive 2FA, gateway payments, reconciliation and session
// teardown. It is both a diagnostic tool and the reference wiring of the
// library's pieces.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/forte001/gracecoop-go/client"
	"github.com/forte001/gracecoop-go/internal/config"
	"github.com/forte001/gracecoop-go/payment"
	"github.com/forte001/gracecoop-go/payment/filejournal"
	"github.com/forte001/gracecoop-go/session"
	"github.com/forte001/gracecoop-go/session/filestore"
	"github.com/forte001/gracecoop-go/session/redisstore"
	"github.com/forte001/gracecoop-go/twofactor"
)

const usage = `usage: coopctl [-role admin|member] <command>

commands:
  login                      log in (prompts for 2FA when required)
  pay -purpose <p> [...]     run a gateway payment
  resume                     resume journaled payments stuck at verifying
  recheck -id <paymentID>    re-query gateway status for a payment
  logout                     clear the role's session
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("coopctl failed")
	}
}

func run(args []string) error {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	c := config.New()

	global := flag.NewFlagSet("coopctl", flag.ContinueOnError)
	role := global.String("role", "member", "session namespace (admin or member)")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing command")
	}

	displayAppName(c.GetAppName())

	namespace := session.Namespace(*role)
	sessions, err := buildSessionManager(c, namespace)
	if err != nil {
		return err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}

	cli, err := client.New(c.GetBaseURL(), sessions,
		client.WithHTTPClient(&http.Client{Timeout: c.GetHTTPTimeout(), Jar: jar}),
		client.WithOnSessionExpired(func(ns session.Namespace, loginRoute string) {
			log.Warn().
				Str("namespace", string(ns)).
				Str("login_route", loginRoute).
				Msg("session expired, log in again")
		}))
	if err != nil {
		return err
	}

	journal, err := filejournal.New(filepath.Join(c.GetDataFolder(), "payments.json"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "login":
		return runLogin(ctx, cli)
	case "pay":
		return runPay(ctx, cli, journal, rest)
	case "resume":
		return runResume(ctx, cli, journal)
	case "recheck":
		return runRecheck(ctx, cli, journal, rest)
	case "logout":
		return cli.Logout()
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func buildSessionManager(c config.Config, namespace session.Namespace) (*session.Manager, error) {
	var store session.Store
	if addr := c.GetRedisAddr(); addr != "" {
		redisStore, err := redisstore.New(goredis.NewClient(&goredis.Options{Addr: addr}))
		if err != nil {
			return nil, err
		}
		store = redisStore
	} else {
		fileStore, err := filestore.New(filepath.Join(c.GetDataFolder(), "sessions.json"))
		if err != nil {
			return nil, err
		}
		store = fileStore
	}
	return session.NewManager(store, namespace)
}

func runLogin(ctx context.Context, cli *client.Client) error {
	service, err := twofactor.NewService(cli, twofactor.NewInMemoryRepo())
	if err != nil {
		return err
	}

	creds := twofactor.Credentials{
		LoginID:  prompt("login id: "),
		Password: prompt("password: "),
	}

	result, err := service.Login(ctx, creds)
	if err != nil {
		return err
	}

	// The pending challenge lives only in this process, so verification
	// happens in the same run.
	if !result.Authenticated {
		fmt.Printf("two-factor code required (%s)\n", result.Route)
		for {
			otp := prompt("code: ")
			result, err = service.Verify(ctx, otp)
			if errors.Is(err, twofactor.ErrCodeRejected) {
				fmt.Println("invalid verification code, try again")
				continue
			}
			if err != nil {
				return err
			}
			break
		}
	}

	log.Info().Str("route", result.Route).Msg("logged in")
	return nil
}

func runPay(ctx context.Context, cli *client.Client, journal payment.Journal, args []string) error {
	fs := flag.NewFlagSet("pay", flag.ContinueOnError)
	purpose := fs.String("purpose", "", "entry | levy | contribution | loan_repayment | loan_payoff")
	amount := fs.String("amount", "", "amount in naira, for purposes where the payer sets it")
	loanRef := fs.String("loan", "", "loan reference, for loan purposes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	intent := payment.Intent{
		Purpose:       payment.Purpose(*purpose),
		LoanReference: *loanRef,
	}
	if *amount != "" {
		parsed, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", *amount, err)
		}
		intent.Amount = parsed
	}

	orchestrator, err := payment.NewOrchestrator(cli, &terminalGateway{}, journal)
	if err != nil {
		return err
	}

	outcome, err := orchestrator.Pay(ctx, intent)
	if err != nil {
		return err
	}

	fmt.Println(outcome.Message)
	return nil
}

func runResume(ctx context.Context, cli *client.Client, journal payment.Journal) error {
	orchestrator, err := payment.NewOrchestrator(cli, &terminalGateway{}, journal)
	if err != nil {
		return err
	}

	outcomes, err := orchestrator.Resume(ctx)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Println("nothing to resume")
		return nil
	}
	for _, outcome := range outcomes {
		fmt.Printf("%s: %s\n", outcome.Transaction.Reference, outcome.Message)
	}
	return nil
}

func runRecheck(ctx context.Context, cli *client.Client, journal payment.Journal, args []string) error {
	fs := flag.NewFlagSet("recheck", flag.ContinueOnError)
	id := fs.String("id", "", "server-side payment id")
	reference := fs.String("reference", "", "gateway reference (optional, updates the local journal)")
	created := fs.String("created", "", "payment creation time, RFC3339 (optional, default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("recheck requires -id")
	}

	createdAt := time.Now()
	if *created != "" {
		parsed, err := time.Parse(time.RFC3339, *created)
		if err != nil {
			return fmt.Errorf("invalid -created %q: %w", *created, err)
		}
		createdAt = parsed
	}

	reconciler, err := payment.NewReconciler(cli, journal)
	if err != nil {
		return err
	}

	result, err := reconciler.Recheck(ctx, payment.Record{
		ID:        *id,
		Reference: *reference,
		CreatedAt: createdAt,
	})
	if err != nil {
		return err
	}

	fmt.Printf("verified=%t %s\n", result.Verified, result.Message)
	return nil
}

func displayAppName(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
