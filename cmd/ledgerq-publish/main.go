// Command ledgerq-publish enqueues transaction events for smoke
// testing a running worker.
//
// It can seed an account with an opening balance, publish well-formed
// credit/debit events, and optionally inject malformed payloads to
// exercise the dead-letter path.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/finvolt/ledgerq"
	"github.com/finvolt/ledgerq/mysql"
)

const (
	exitUsage        = 2
	maxRandomCents   = 50000
	randomDebitRatio = 3 // every third random event is a debit
)

var (
	errAccountRequired = errors.New("ledgerq-publish: account or -seed-account is required")
	errInvalidAmount   = errors.New("ledgerq-publish: amount must be positive")
)

func main() {
	var (
		dsn            string
		account        string
		txType         string
		amount         string
		count          int
		random         bool
		seed           int64
		seedAccount    bool
		openingBalance string
		malformed      bool
		migrate        bool
	)

	flag.StringVar(&dsn, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flag.StringVar(&account, "account", "", "Account id (UUID); generated when seeding a new account")
	flag.StringVar(&txType, "type", "Credit", "Transaction type: Credit or Debit")
	flag.StringVar(&amount, "amount", "10.00", "Transaction amount")
	flag.IntVar(&count, "count", 1, "Number of events to publish")
	flag.BoolVar(&random, "random", false, "Randomize amounts and types")
	flag.Int64Var(&seed, "seed", 1, "Random seed")
	flag.BoolVar(&seedAccount, "seed-account", false, "Create the account first")
	flag.StringVar(&openingBalance, "opening-balance", "1000.00", "Opening balance when seeding")
	flag.BoolVar(&malformed, "malformed", false, "Publish malformed payloads instead of events")
	flag.BoolVar(&migrate, "migrate", false, "Create tables before publishing")
	flag.Parse()

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	if err := run(dsn, account, txType, amount, openingBalance, count, seed, random, seedAccount, malformed, migrate); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run(
	dsn, account, txType, amount, openingBalance string,
	count int,
	seed int64,
	random, seedAccount, malformed, migrate bool,
) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	if migrate {
		statements, err := mysql.Schema()
		if err != nil {
			return fmt.Errorf("build schema: %w", err)
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
	}

	queue, err := mysql.NewQueue(db)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	store, err := mysql.NewStore(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	accountID, err := resolveAccount(ctx, store, account, openingBalance, seedAccount)
	if err != nil {
		return err
	}

	if malformed {
		return publishMalformed(ctx, queue, count)
	}

	if random {
		return publishRandom(ctx, queue, accountID, count, seed)
	}

	parsedType, err := ledgerq.ParseTransactionType(txType)
	if err != nil {
		return err
	}
	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil || !parsedAmount.IsPositive() {
		return fmt.Errorf("%w: %s", errInvalidAmount, amount)
	}

	for i := 0; i < count; i++ {
		id, err := publishEvent(ctx, queue, accountID, parsedType, parsedAmount)
		if err != nil {
			return err
		}
		fmt.Printf("published %s %s %s message_id=%s\n", parsedType, parsedAmount, accountID, id)
	}

	return nil
}

func resolveAccount(ctx context.Context, store *mysql.Store, account, openingBalance string, seedAccount bool) (ledgerq.ID, error) {
	var accountID ledgerq.ID
	if account != "" {
		parsed, err := ledgerq.ParseID(account)
		if err != nil {
			return ledgerq.ID{}, fmt.Errorf("parse account id: %w", err)
		}
		accountID = parsed
	}

	if !seedAccount {
		if accountID.IsZero() {
			return ledgerq.ID{}, errAccountRequired
		}

		return accountID, nil
	}

	if accountID.IsZero() {
		generated, err := ledgerq.NewUUIDv7Generator(ledgerq.SystemClock{}).New()
		if err != nil {
			return ledgerq.ID{}, fmt.Errorf("generate account id: %w", err)
		}
		accountID = generated
	}

	balance, err := decimal.NewFromString(openingBalance)
	if err != nil || balance.IsNegative() {
		return ledgerq.ID{}, fmt.Errorf("parse opening balance: %q", openingBalance)
	}
	if err := store.CreateAccount(ctx, accountID, balance); err != nil {
		if errors.Is(err, ledgerq.ErrDuplicateMessage) {
			fmt.Printf("account %s already exists\n", accountID)

			return accountID, nil
		}

		return ledgerq.ID{}, fmt.Errorf("create account: %w", err)
	}
	fmt.Printf("created account %s balance=%s\n", accountID, balance)

	return accountID, nil
}

func publishEvent(ctx context.Context, queue *mysql.Queue, accountID ledgerq.ID, txType ledgerq.TransactionType, amount decimal.Decimal) (ledgerq.ID, error) {
	eventID, err := ledgerq.NewUUIDv7Generator(ledgerq.SystemClock{}).New()
	if err != nil {
		return ledgerq.ID{}, fmt.Errorf("generate event id: %w", err)
	}

	body, err := json.Marshal(ledgerq.TransactionEvent{
		ID:        eventID,
		Type:      string(txType),
		AccountID: accountID,
		Amount:    amount,
	})
	if err != nil {
		return ledgerq.ID{}, fmt.Errorf("encode event: %w", err)
	}

	id, err := queue.Publish(ctx, eventID, body)
	if err != nil {
		return ledgerq.ID{}, fmt.Errorf("publish: %w", err)
	}

	return id, nil
}

func publishRandom(ctx context.Context, queue *mysql.Queue, accountID ledgerq.ID, count int, seed int64) error {
	// #nosec G404 -- deterministic RNG for smoke-test payloads.
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < count; i++ {
		txType := ledgerq.TypeCredit
		if i%randomDebitRatio == randomDebitRatio-1 {
			txType = ledgerq.TypeDebit
		}
		amount := decimal.New(int64(rng.Intn(maxRandomCents)+1), -2)
		id, err := publishEvent(ctx, queue, accountID, txType, amount)
		if err != nil {
			return err
		}
		fmt.Printf("published %s %s %s message_id=%s\n", txType, amount, accountID, id)
	}

	return nil
}

func publishMalformed(ctx context.Context, queue *mysql.Queue, count int) error {
	for i := 0; i < count; i++ {
		id, err := queue.Publish(ctx, ledgerq.ID{}, []byte(fmt.Sprintf("{broken payload %d", i)))
		if err != nil {
			return fmt.Errorf("publish malformed: %w", err)
		}
		fmt.Printf("published malformed message_id=%s\n", id)
	}

	return nil
}
