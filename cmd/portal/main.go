// File: cmd/portal/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mpesa-portal/internal/config"
	"mpesa-portal/internal/infra/logging"
	"mpesa-portal/internal/infra/metrics"
	red "mpesa-portal/internal/infra/redis"
	"mpesa-portal/internal/portal"

	"github.com/rs/zerolog"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: portal [-config config.yaml] [-dev] <command> [flags]

Commands:
  whoami                         report authentication state
  login                          establish a staff session and report identity
  logout                         end the session
  token                          client-credentials grant (-save to persist)
  save-token                     persist a bearer token into the store
  clear-token                    remove the persisted bearer token
  stkpush                        initiate a push payment and poll for its callback
  c2b-register                   register confirmation/validation webhook URLs
  b2c-bulk                       submit a B2C disbursement batch from a JSON file
  b2b-bulk                       submit a B2B disbursement batch from a JSON file
  transactions                   list settled transactions
  callbacks                      list stored callbacks (staff session required)
`)
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Credential store ----
	var creds portal.CredentialStore
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		creds = red.NewTokenStore(redisClient)
	} else {
		creds = portal.NewFileTokenStore(cfg.Portal.TokenFile)
	}

	client, err := portal.NewClient(cfg.Portal, creds, logger)
	if err != nil {
		log.Fatalf("portal client: %v", err)
	}

	cmd, rest := args[0], args[1:]
	if err := run(ctx, cmd, rest, cfg, client, creds, logger); err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func run(ctx context.Context, cmd string, args []string, cfg *config.Config, client *portal.Client, creds portal.CredentialStore, logger *zerolog.Logger) error {
	switch cmd {
	case "whoami":
		return cmdWhoAmI(ctx, client)
	case "login":
		return cmdLogin(ctx, args, client)
	case "logout":
		_, err := client.Logout(ctx)
		return err
	case "token":
		return cmdToken(ctx, args, cfg, client, creds, logger)
	case "save-token":
		return cmdSaveToken(args, cfg, creds, logger)
	case "clear-token":
		creds.Clear()
		fmt.Println("token cleared")
		return nil
	case "stkpush":
		return cmdSTKPush(ctx, args, cfg, client, logger)
	case "c2b-register":
		return cmdRegisterC2B(ctx, args, client)
	case "b2c-bulk":
		return cmdBulk(ctx, args, client, client.B2CBulk)
	case "b2b-bulk":
		return cmdBulk(ctx, args, client, client.B2BBulk)
	case "transactions":
		res, err := client.Transactions(ctx)
		if err != nil {
			return err
		}
		return printResponse(res)
	case "callbacks":
		return cmdCallbacks(ctx, args, client)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdWhoAmI(ctx context.Context, client *portal.Client) error {
	id, res, err := client.WhoAmI(ctx)
	if err != nil {
		return err
	}
	if !res.OK() {
		return printResponse(res)
	}
	if !id.Authenticated {
		fmt.Println("not authenticated")
		return nil
	}
	fmt.Printf("authenticated as %s (staff=%v)\n", id.Username, id.IsStaff)
	return nil
}

func cmdLogin(ctx context.Context, args []string, client *portal.Client) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "staff username")
	password := fs.String("password", "", "staff password")
	_ = fs.Parse(args)
	if *username == "" || *password == "" {
		return fmt.Errorf("-username and -password are required")
	}
	res, err := client.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("login failed (%d): %s", res.Status, portal.StatusMessage(res.JSON))
	}
	return cmdWhoAmI(ctx, client)
}

func cmdToken(ctx context.Context, args []string, cfg *config.Config, client *portal.Client, creds portal.CredentialStore, logger *zerolog.Logger) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	clientID := fs.String("client-id", "", "OAuth client id")
	clientSecret := fs.String("client-secret", "", "OAuth client secret")
	save := fs.Bool("save", false, "persist the issued token")
	_ = fs.Parse(args)
	if *clientID == "" || *clientSecret == "" {
		return fmt.Errorf("-client-id and -client-secret are required")
	}
	token, res, err := client.IssueToken(ctx, *clientID, *clientSecret)
	if err != nil {
		return err
	}
	if !res.OK() || token == "" {
		return fmt.Errorf("token issuance failed (%d): %s", res.Status, portal.StatusMessage(res.JSON))
	}
	fmt.Println(token)
	if *save {
		creds.Save(token)
		logger.Info().Str("token", logging.Redact(token, cfg.Runtime.Dev)).Msg("token saved")
	}
	return nil
}

func cmdSaveToken(args []string, cfg *config.Config, creds portal.CredentialStore, logger *zerolog.Logger) error {
	fs := flag.NewFlagSet("save-token", flag.ExitOnError)
	token := fs.String("token", "", "bearer token to persist")
	_ = fs.Parse(args)
	if *token == "" {
		return fmt.Errorf("-token is required")
	}
	creds.Save(*token)
	logger.Info().Str("token", logging.Redact(*token, cfg.Runtime.Dev)).Msg("token saved")
	return nil
}

func cmdSTKPush(ctx context.Context, args []string, cfg *config.Config, client *portal.Client, logger *zerolog.Logger) error {
	fs := flag.NewFlagSet("stkpush", flag.ExitOnError)
	amount := fs.Int64("amount", 1, "amount")
	phone := fs.String("phone", "", "recipient phone number (2547...)")
	partyA := fs.String("party-a", "", "optional PartyA override")
	username := fs.String("username", "", "staff username (enables callback polling)")
	password := fs.String("password", "", "staff password")
	_ = fs.Parse(args)
	if *phone == "" {
		return fmt.Errorf("-phone is required")
	}

	// The callbacks log is staff-only; a session established here lives in
	// this process's cookie jar for the poll that follows.
	if *username != "" {
		res, err := client.Login(ctx, *username, *password)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("login failed (%d): %s", res.Status, portal.StatusMessage(res.JSON))
		}
	}

	ids, res, err := client.STKPush(ctx, portal.STKPushRequest{
		Amount:      *amount,
		PhoneNumber: *phone,
		PartyA:      *partyA,
	})
	if err != nil {
		return err
	}
	if err := printResponse(res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("initiation failed (%d): %s", res.Status, portal.StatusMessage(res.JSON))
	}

	correlator := portal.NewCorrelator(client, cfg.Poll, logger)
	session, err := correlator.Start(ctx, ids, func(rec portal.ResultRecord) {
		fmt.Printf("callback received: receipt=%v amount=%v\n",
			rec.Fields["mpesa_receipt_number"], rec.Fields["amount"])
	})
	if err == portal.ErrNoCorrelationIDs {
		fmt.Println("no correlation identifiers in response; not waiting for callback")
		return nil
	}
	if err != nil {
		return err
	}
	defer session.Stop()

	fmt.Println("waiting for callback...")
	select {
	case <-session.Done():
	case <-ctx.Done():
		session.Stop()
		<-session.Done()
	}
	switch session.State() {
	case portal.StateMatched:
		fmt.Println("payment confirmed")
		return nil
	case portal.StateTimedOut:
		fmt.Println("confirmation still pending; check transactions later")
		return nil
	default:
		return fmt.Errorf("polling aborted; sign in as staff to read the callbacks log")
	}
}

func cmdRegisterC2B(ctx context.Context, args []string, client *portal.Client) error {
	fs := flag.NewFlagSet("c2b-register", flag.ExitOnError)
	confirmation := fs.String("confirmation-url", "", "confirmation webhook URL")
	validation := fs.String("validation-url", "", "validation webhook URL")
	_ = fs.Parse(args)
	if *confirmation == "" || *validation == "" {
		return fmt.Errorf("-confirmation-url and -validation-url are required")
	}
	res, err := client.RegisterC2B(ctx, *confirmation, *validation)
	if err != nil {
		return err
	}
	return printResponse(res)
}

func cmdBulk(ctx context.Context, args []string, client *portal.Client, submit func(context.Context, []portal.BulkItem) (portal.Response, error)) error {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	file := fs.String("file", "", "JSON file containing the disbursement items array")
	_ = fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var items []portal.BulkItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("parse %s: %w", *file, err)
	}
	res, err := submit(ctx, items)
	if err != nil {
		return err
	}
	return printResponse(res)
}

func cmdCallbacks(ctx context.Context, args []string, client *portal.Client) error {
	fs := flag.NewFlagSet("callbacks", flag.ExitOnError)
	limit := fs.Int("limit", 200, "maximum rows")
	_ = fs.Parse(args)
	res, err := client.CallbackLogs(ctx, *limit)
	if err != nil {
		return err
	}
	return printResponse(res)
}

func printResponse(res portal.Response) error {
	fmt.Printf("HTTP %d\n", res.Status)
	if res.JSON != nil {
		b, err := json.MarshalIndent(res.JSON, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}
	if res.Text != "" {
		fmt.Println(res.Text)
	}
	return nil
}
