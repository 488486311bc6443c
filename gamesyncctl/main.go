package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"accordsim.com/gamesync/gamesync"
	"accordsim.com/gamesync/keyed"
)

const GamesyncCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Gamesync control.

Relay settings come from the environment (GAMESYNC_RELAY_BIND,
GAMESYNC_RELAY_DB, GAMESYNC_PUT_SECRET, ...), optionally via a .env file.

Usage:
    gamesyncctl relay [--bind=<bind>]
    gamesyncctl seed-deck --relay_url=<relay_url> [--sign] <deck_yaml>
    gamesyncctl repair --relay_url=<relay_url> [--sign] <game_id>...
    gamesyncctl export --db=<db> <snapshot_zst>
    gamesyncctl import --db=<db> <snapshot_zst>

Options:
    -h --help                Show this screen.
    --version                Show version.
    --bind=<bind>            Override the relay bind address.
    --relay_url=<relay_url>  Relay websocket url, e.g. ws://localhost:7280
    --db=<db>                Path to the relay's sqlite put log.
    --sign                   Sign puts with the shared secret.`

	// keep glog's flags working alongside docopt
	flag.CommandLine.Parse([]string{})

	godotenv.Load()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], GamesyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if relay_, _ := opts.Bool("relay"); relay_ {
		relay(opts)
	} else if seedDeck_, _ := opts.Bool("seed-deck"); seedDeck_ {
		seedDeck(opts)
	} else if repair_, _ := opts.Bool("repair"); repair_ {
		repair(opts)
	} else if export_, _ := opts.Bool("export"); export_ {
		exportSnapshot(opts)
	} else if import_, _ := opts.Bool("import"); import_ {
		importSnapshot(opts)
	}
}

func relay(opts docopt.Opts) {
	settings, err := keyed.RelaySettingsFromEnv()
	if err != nil {
		Err.Fatalf("relay settings: %s", err)
	}
	if bind, err := opts.String("--bind"); err == nil && bind != "" {
		settings.BindAddress = bind
	}

	ctx := context.Background()
	relay, err := keyed.NewRelay(ctx, settings)
	if err != nil {
		Err.Fatalf("relay: %s", err)
	}
	defer relay.Close()

	glog.Infof("relay listening on %s\n", settings.BindAddress)
	if err := http.ListenAndServe(settings.BindAddress, relay); err != nil {
		Err.Fatalf("relay: %s", err)
	}
}

func seedDeck(opts docopt.Opts) {
	deckYamlPath, _ := opts.String("<deck_yaml>")
	data, err := os.ReadFile(deckYamlPath)
	if err != nil {
		Err.Fatalf("read deck: %s", err)
	}
	deckFile, err := gamesync.ParseDeckFile(data)
	if err != nil {
		Err.Fatalf("parse deck: %s", err)
	}

	service, closeFn := connect(opts)
	defer closeFn()

	deckId := service.SeedDeck(deckFile)
	if deckId == "" {
		Err.Fatalf("seed failed")
	}
	service.FlushVerify()
	// give forwarded puts a moment to reach the relay
	time.Sleep(1 * time.Second)
	Out.Printf("seeded deck %s (%q, %d cards)", deckId, deckFile.Name, len(deckFile.Cards))
}

func repair(opts docopt.Opts) {
	gameIds := stringList(opts, "<game_id>")
	if len(gameIds) == 0 {
		Err.Fatalf("no game ids")
	}

	service, closeFn := connect(opts)
	defer closeFn()

	// let the initial sync land before walking the graph
	time.Sleep(1 * time.Second)
	writes := service.RepairGames(gameIds)
	service.FlushVerify()
	time.Sleep(1 * time.Second)
	Out.Printf("repaired %d games: %d writes", len(gameIds), writes)
}

func exportSnapshot(opts docopt.Opts) {
	dbPath, _ := opts.String("--db")
	outPath, _ := opts.String("<snapshot_zst>")

	putLog, err := keyed.OpenPutLog(dbPath)
	if err != nil {
		Err.Fatalf("open db: %s", err)
	}
	defer putLog.Close()

	memory := keyed.NewMemoryWithDefaults(context.Background())
	if err := putLog.Replay(func(path string, doc keyed.Doc) {
		memory.Put(context.Background(), path, doc)
	}); err != nil {
		Err.Fatalf("replay: %s", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		Err.Fatalf("create snapshot: %s", err)
	}
	defer out.Close()

	docs := memory.Export()
	if err := keyed.WriteSnapshot(out, docs); err != nil {
		Err.Fatalf("write snapshot: %s", err)
	}
	Out.Printf("exported %d documents to %s", len(docs), outPath)
}

func importSnapshot(opts docopt.Opts) {
	dbPath, _ := opts.String("--db")
	inPath, _ := opts.String("<snapshot_zst>")

	in, err := os.Open(inPath)
	if err != nil {
		Err.Fatalf("open snapshot: %s", err)
	}
	defer in.Close()

	snapshot, err := keyed.ReadSnapshot(in)
	if err != nil {
		Err.Fatalf("read snapshot: %s", err)
	}

	putLog, err := keyed.OpenPutLog(dbPath)
	if err != nil {
		Err.Fatalf("open db: %s", err)
	}
	defer putLog.Close()

	for path, doc := range snapshot.Docs {
		putLog.Append(keyed.NewId().String(), path, doc)
	}
	Out.Printf("imported %d documents into %s", len(snapshot.Docs), dbPath)
}

func connect(opts docopt.Opts) (*gamesync.Service, func()) {
	relayUrl, _ := opts.String("--relay_url")
	if relayUrl == "" {
		Err.Fatalf("missing --relay_url")
	}

	var signer *keyed.Signer
	if sign_, _ := opts.Bool("--sign"); sign_ {
		signer = keyed.NewSigner(putSecret())
	}

	ctx := context.Background()
	remote := keyed.NewRemoteWithDefaults(ctx, relayUrl, signer)
	service := gamesync.NewServiceWithDefaults(ctx, remote)
	return service, func() {
		service.Close()
		remote.Close()
	}
}

func putSecret() []byte {
	if secret := os.Getenv("GAMESYNC_PUT_SECRET"); secret != "" {
		return []byte(secret)
	}
	fmt.Fprint(os.Stderr, "put secret: ")
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("read secret: %s", err)
	}
	return secret
}

func stringList(opts docopt.Opts, key string) []string {
	values := []string{}
	switch v := opts[key].(type) {
	case []string:
		values = v
	case string:
		if v != "" {
			values = strings.Split(v, ",")
		}
	}
	return values
}
