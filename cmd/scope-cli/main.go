// Package main is the operator CLI of a scope feed: it initializes the feed,
// syncs the token list, triggers refreshes, inspects prices and drives the mock
// oracle of a local node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/config"
	"github.com/vuittont60/scope/internal/crank"
	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/logging"
	"github.com/vuittont60/scope/internal/lookup"
	"github.com/vuittont60/scope/internal/mockoracle"
	"github.com/vuittont60/scope/internal/scope"
	"github.com/vuittont60/scope/internal/solana"
	chstore "github.com/vuittont60/scope/internal/storage/clickhouse"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *cliEnv, args []string) error
}

var commands = []command{
	{"init", "initialize the feed and upload the token list", cmdInit},
	{"upload", "make the ledger mapping equal to the token list", cmdUpload},
	{"download", "write the ledger mapping to -out", cmdDownload},
	{"show-mapping", "print the ledger mapping", cmdShowMapping},
	{"get-prices", "print the stored prices", cmdGetPrices},
	{"refresh-one", "refresh slot -index", cmdRefreshOne},
	{"refresh-batch", "refresh the 8 slots starting at -first", cmdRefreshBatch},
	{"refresh-list", "refresh the slots -indices (comma separated, at most 28)", cmdRefreshList},
	{"refresh-all", "refresh every configured slot in chunks", cmdRefreshAll},
	{"watch", "stream price updates over WebSocket", cmdWatch},
	{"history", "summarize recorded prices of slot -index from ClickHouse", cmdHistory},
	{"mock", "write a mock oracle record (pyth-init, pyth-price, pyth-trading, pyth-twap, pyth-conf, sb1, sb2, stake)", cmdMock},
}

// cliEnv holds the global flags and the lazily built client.
type cliEnv struct {
	rpcEndpoint string
	wsEndpoint  string
	programID   string
	feed        string
	keypair     string
	tokenList   string
	timeout     time.Duration
	logger      zerolog.Logger

	rpc    *solana.HTTPClient
	payer  *solana.Keypair
	client *crank.ScopeClient
}

func main() {
	env := &cliEnv{}
	global := flag.NewFlagSet("scope-cli", flag.ExitOnError)
	global.StringVar(&env.rpcEndpoint, "rpc", envOr("SCOPE_RPC_ENDPOINT", "http://127.0.0.1:8899"), "Node JSON-RPC endpoint")
	global.StringVar(&env.wsEndpoint, "ws", os.Getenv("SCOPE_WS_ENDPOINT"), "Node WebSocket endpoint (default: derived from -rpc)")
	global.StringVar(&env.programID, "program-id", os.Getenv("SCOPE_PROGRAM_ID"), "Scope program ID")
	global.StringVar(&env.feed, "feed", envOr("SCOPE_FEED", "default"), "Feed name")
	global.StringVar(&env.keypair, "keypair", os.Getenv("SCOPE_KEYPAIR"), "Payer keypair file")
	global.StringVar(&env.tokenList, "token-list", os.Getenv("SCOPE_TOKEN_LIST"), "Token list file (YAML or JSON)")
	global.DurationVar(&env.timeout, "timeout", 30*time.Second, "RPC timeout")
	logLevel := global.String("log-level", "warn", "Log level")
	global.Usage = func() { usage(global) }

	global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		usage(global)
		os.Exit(2)
	}

	logger, err := logging.Init(*logLevel, "text", "stderr")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	env.logger = logger

	name := global.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage(global)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.run(ctx, env, global.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: scope-cli [flags] <command> [command flags]\n\nCommands:\n")
	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\t%s\n", c.name, c.usage)
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	fs.PrintDefaults()
}

// scopeClient builds the client and loads the token list when one is given.
func (e *cliEnv) scopeClient() (*crank.ScopeClient, error) {
	if e.client != nil {
		return e.client, nil
	}
	if e.programID == "" {
		return nil, fmt.Errorf("-program-id is required")
	}
	programID, err := solana.PubkeyFromString(e.programID)
	if err != nil {
		return nil, fmt.Errorf("-program-id: %w", err)
	}
	payer, err := e.loadPayer()
	if err != nil {
		return nil, err
	}

	client, err := crank.NewScopeClient(e.rpcClient(), crank.Options{
		ProgramID: programID,
		Feed:      e.feed,
		Payer:     payer,
		Logger:    e.logger,
	})
	if err != nil {
		return nil, err
	}
	if e.tokenList != "" {
		list, err := config.LoadTokenList(e.tokenList)
		if err != nil {
			return nil, err
		}
		if err := client.SetLocalMapping(list); err != nil {
			return nil, err
		}
	}
	e.client = client
	return client, nil
}

func (e *cliEnv) rpcClient() *solana.HTTPClient {
	if e.rpc == nil {
		e.rpc = solana.NewHTTPClient(e.rpcEndpoint, solana.WithTimeout(e.timeout))
	}
	return e.rpc
}

func (e *cliEnv) loadPayer() (*solana.Keypair, error) {
	if e.payer != nil {
		return e.payer, nil
	}
	if e.keypair == "" {
		return nil, fmt.Errorf("-keypair is required")
	}
	payer, err := solana.LoadKeypair(e.keypair)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	e.payer = payer
	return payer, nil
}

func (e *cliEnv) requireTokenList() error {
	if e.tokenList == "" {
		return fmt.Errorf("-token-list is required")
	}
	return nil
}

func cmdInit(ctx context.Context, env *cliEnv, _ []string) error {
	if err := env.requireTokenList(); err != nil {
		return err
	}
	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	if err := client.InitProgram(ctx); err != nil {
		return err
	}
	a := client.Addresses()
	fmt.Printf("configuration %s\nmappings      %s\nprices        %s\n", a.Configuration, a.Mappings, a.Prices)
	return nil
}

func cmdUpload(ctx context.Context, env *cliEnv, _ []string) error {
	if err := env.requireTokenList(); err != nil {
		return err
	}
	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	return client.UploadMapping(ctx)
}

func cmdDownload(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	out := fs.String("out", "", "Output token list file (default: -token-list)")
	fs.Parse(args)

	path := *out
	if path == "" {
		path = env.tokenList
	}
	if path == "" {
		return fmt.Errorf("-out or -token-list is required")
	}

	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	if err := client.DownloadMapping(ctx); err != nil {
		return err
	}
	list := client.GetLocalMapping()
	if err := config.SaveTokenList(path, list); err != nil {
		return err
	}
	fmt.Printf("%d slots written to %s\n", len(list.Tokens), path)
	return nil
}

func cmdShowMapping(ctx context.Context, env *cliEnv, _ []string) error {
	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	mappings, err := client.LedgerMapping(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tTYPE\tREFERENCE\tPAIR")
	for i := range mappings.Accounts {
		ref, typ := mappings.Entry(uint16(i))
		if ref.IsZero() {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, typ, ref, client.Entry(uint16(i)).TokenPair)
	}
	return w.Flush()
}

func cmdGetPrices(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("get-prices", flag.ExitOnError)
	all := fs.Bool("all", false, "Include slots that were never refreshed")
	fs.Parse(args)

	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	prices, err := client.GetPrices(ctx)
	if err != nil {
		return err
	}
	return printPrices(client, prices, *all)
}

func printPrices(client *crank.ScopeClient, prices *scope.OraclePrices, all bool) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "INDEX\tPAIR\tPRICE\tSLOT\tUPDATED\t")
	for i, dp := range prices.Prices {
		if dp.IsZero() && !all {
			continue
		}
		updated := "-"
		if dp.UnixTimestamp > 0 {
			updated = time.Unix(int64(dp.UnixTimestamp), 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t\n", i, client.Entry(uint16(i)).TokenPair, dp.Price, dp.LastUpdatedSlot, updated)
	}
	return w.Flush()
}

func cmdRefreshOne(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("refresh-one", flag.ExitOnError)
	index := fs.Uint("index", 0, "Slot index")
	fs.Parse(args)

	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	if err := domain.CheckSlotIndex(int(*index)); err != nil {
		return err
	}
	receipt, err := client.RefreshOne(ctx, uint16(*index))
	if err != nil {
		return err
	}
	printReceipt(receipt)
	return nil
}

func cmdRefreshBatch(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("refresh-batch", flag.ExitOnError)
	first := fs.Uint("first", 0, "First slot index of the batch")
	fs.Parse(args)

	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	if *first >= domain.MaxEntries {
		return fmt.Errorf("%w: batch starting at %d", domain.ErrOutOfRange, *first)
	}
	receipt, err := client.RefreshBatch(ctx, uint16(*first))
	if err != nil {
		return err
	}
	printReceipt(receipt)
	return nil
}

func cmdRefreshList(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("refresh-list", flag.ExitOnError)
	raw := fs.String("indices", "", "Comma separated slot indices")
	fs.Parse(args)

	indices, err := parseIndices(*raw)
	if err != nil {
		return err
	}
	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	receipt, err := client.RefreshList(ctx, indices)
	if err != nil {
		return err
	}
	printReceipt(receipt)
	return nil
}

func cmdRefreshAll(ctx context.Context, env *cliEnv, _ []string) error {
	if err := env.requireTokenList(); err != nil {
		return err
	}
	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	report, err := client.RefreshAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("chunks %d  refreshed %d  skipped %d  failed %d\n",
		report.Chunks, report.Refreshed, len(report.Skipped), len(report.Failed))
	for _, f := range report.Failed {
		fmt.Printf("  chunk %d %v: %v\n", f.Index, f.Slots, f.Err)
	}
	if !report.OK() {
		return fmt.Errorf("%d chunks failed", len(report.Failed))
	}
	return nil
}

func cmdWatch(ctx context.Context, env *cliEnv, _ []string) error {
	client, err := env.scopeClient()
	if err != nil {
		return err
	}
	endpoint := env.wsEndpoint
	if endpoint == "" {
		endpoint = wsEndpointFor(env.rpcEndpoint)
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = env.logger
	ws, err := solana.NewWSClient(ctx, endpoint, &wsCfg)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	notifications, err := ws.AccountSubscribe(ctx, client.Addresses().Prices)
	if err != nil {
		return fmt.Errorf("subscribe prices: %w", err)
	}

	var last *scope.OraclePrices
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return fmt.Errorf("subscription closed")
			}
			if n.Account == nil {
				continue
			}
			prices, err := scope.DecodeOraclePrices(n.Account.Data)
			if err != nil {
				return err
			}
			for i, dp := range prices.Prices {
				if last != nil && last.Prices[i] == dp {
					continue
				}
				if dp.IsZero() {
					continue
				}
				fmt.Printf("slot %d  index %d  %s  %s\n", n.Slot, i, client.Entry(uint16(i)).TokenPair, dp.Price)
			}
			last = prices
		}
	}
}

func cmdHistory(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dsn := fs.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	database := fs.String("database", os.Getenv("CLICKHOUSE_DATABASE"), "History database (default: DSN path)")
	index := fs.Uint("index", 0, "Slot index")
	since := fs.Duration("since", 0, "Only points refreshed within this window (default: all)")
	at := fs.String("at", "", "Also print the price in effect at this RFC3339 time")
	fs.Parse(args)

	if *dsn == "" {
		return fmt.Errorf("-clickhouse-dsn is required")
	}
	if err := domain.CheckSlotIndex(int(*index)); err != nil {
		return err
	}

	db, err := chstore.ResolveDatabase(*dsn, *database)
	if err != nil {
		return err
	}
	conn, err := chstore.NewConnWithDatabase(ctx, *dsn, db)
	if err != nil {
		return err
	}
	defer conn.Close()
	store := chstore.NewPriceHistoryStore(conn)

	var points []*domain.PricePoint
	if *since > 0 {
		now := time.Now()
		points, err = store.GetByTimeRange(ctx, uint16(*index), uint64(now.Add(-*since).Unix()), uint64(now.Unix()))
	} else {
		points, err = store.GetByIndex(ctx, uint16(*index))
	}
	if err != nil {
		return err
	}

	summary, err := lookup.Summarize(points)
	if err != nil {
		return err
	}
	fmt.Printf("index %d  points %d\nfirst %s  last %s  min %s  max %s  change %s%%\n",
		*index, summary.Count, summary.First, summary.Last, summary.Min, summary.Max,
		summary.Change.Shift(2).StringFixed(2))

	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("-at: %w", err)
		}
		p, err := lookup.PriceAt(uint64(t.Unix()), points)
		if err != nil {
			return err
		}
		fmt.Printf("at %s  %s (slot %d)\n", *at, p.Price(), p.LastUpdatedSlot)
	}
	return nil
}

func cmdMock(ctx context.Context, env *cliEnv, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("mock requires a record kind")
	}
	kind := args[0]

	fs := flag.NewFlagSet("mock "+kind, flag.ExitOnError)
	mockID := fs.String("mock-program-id", os.Getenv("SCOPE_MOCK_PROGRAM_ID"), "Mock oracle program ID")
	name := fs.String("name", "", "Record name")
	price := fs.Int64("price", 0, "Pyth price / Switchboard v2 mantissa")
	expo := fs.Int("expo", 0, "Pyth exponent")
	conf := fs.Uint64("conf", 0, "Pyth confidence / Switchboard v2 std deviation mantissa")
	status := fs.Uint("status", 1, "Pyth trading status")
	result := fs.Float64("result", 0, "Switchboard v1 result")
	scale := fs.Uint("scale", 0, "Switchboard v2 scale")
	numSuccess := fs.Uint("num-success", 1, "Switchboard successful oracle responses")
	minResults := fs.Uint("min-results", 1, "Switchboard minimum responses")
	total := fs.Uint64("total-lamports", 0, "Stake pool total lamports")
	supply := fs.Uint64("supply", 0, "Stake pool token supply")
	epoch := fs.Int64("epoch", -1, "Stake pool last update epoch (default: current)")
	fs.Parse(args[1:])

	if *mockID == "" || *name == "" {
		return fmt.Errorf("-mock-program-id and -name are required")
	}
	programID, err := solana.PubkeyFromString(*mockID)
	if err != nil {
		return fmt.Errorf("-mock-program-id: %w", err)
	}
	payer, err := env.loadPayer()
	if err != nil {
		return err
	}
	record, err := mockoracle.RecordAddress(programID, *name)
	if err != nil {
		return err
	}

	rpc := env.rpcClient()
	clock, err := rpc.GetClock(ctx)
	if err != nil {
		return err
	}

	p := payer.PublicKey()
	var ix solana.Instruction
	switch kind {
	case "pyth-init":
		ix = mockoracle.NewInitPythInstruction(programID, p, record, *price, int32(*expo), *conf)
	case "pyth-price":
		ix = mockoracle.NewSetPythPriceInstruction(programID, p, record, *price)
	case "pyth-trading":
		ix = mockoracle.NewSetPythTradingInstruction(programID, p, record, uint32(*status))
	case "pyth-twap":
		ix = mockoracle.NewSetPythTwapInstruction(programID, p, record, *price)
	case "pyth-conf":
		ix = mockoracle.NewSetPythConfidenceInstruction(programID, p, record, *conf)
	case "sb1":
		ix = mockoracle.NewSetSwitchboardV1Instruction(programID, p, record, *result, uint32(*minResults), uint32(*numSuccess))
	case "sb2":
		ix = mockoracle.NewSetSwitchboardV2Instruction(programID, p, record, *price, uint32(*scale), int64(*conf), uint32(*numSuccess), uint32(*minResults))
	case "stake":
		e := clock.Epoch
		if *epoch >= 0 {
			e = uint64(*epoch)
		}
		ix = mockoracle.NewSetStakePoolInstruction(programID, p, record, *total, *supply, e)
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}

	receipt, err := rpc.SendTransaction(ctx, solana.NewTransaction(payer, clock.Slot, ix))
	if err != nil {
		return err
	}
	fmt.Printf("record %s\n", record)
	printReceipt(receipt)
	return nil
}

func printReceipt(r *solana.Receipt) {
	fmt.Printf("signature %s  slot %d\n", r.Signature, r.Slot)
	if len(r.Skipped) > 0 {
		fmt.Printf("skipped unset slots %v\n", r.Skipped)
	}
	for _, l := range r.Logs {
		fmt.Printf("  %s\n", l)
	}
}

func parseIndices(raw string) ([]uint16, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []uint16
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q: %w", part, err)
		}
		out = append(out, uint16(n))
	}
	return out, nil
}

// wsEndpointFor maps http(s)://host to ws(s)://host/ws.
func wsEndpointFor(rpc string) string {
	ws := rpc
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimSuffix(ws, "/") + "/ws"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
