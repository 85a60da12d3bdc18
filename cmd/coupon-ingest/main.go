package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/storage/postgres"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxCodeLen    = 32
)

var hundred = decimal.NewFromInt(100)

func main() {
	var (
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&pattern, "files", "data/coupons*.csv.gz", "glob of gzip-compressed coupon CSV files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and dedupe without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", pattern)
	}
	sort.Strings(files)

	slog.Info("parsing coupon files", slog.Int("files", len(files)))
	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return err
	}

	coupons, dupes := dedupe(parsed)
	slog.Info("coupons parsed",
		slog.Int("unique", len(coupons)),
		slog.Int("duplicates", dupes),
	)
	if dryRun || len(coupons) == 0 {
		return nil
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeCoupons(ctx, postgres.NewCouponRepository(pool), coupons)
}

// parseFiles reads every file concurrently. Results keep file order.
func parseFiles(ctx context.Context, files []string) ([][]coupon.Coupon, error) {
	out := make([][]coupon.Coupon, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			cs, err := readFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			slog.Info("file parsed", slog.String("file", path), slog.Int("coupons", len(cs)))
			out[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readFile(ctx context.Context, path string) ([]coupon.Coupon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return readCoupons(ctx, gz)
}

// readCoupons parses rows of code,discount,forNewUser,forMember,description.
// A first row starting with "code" is treated as a header.
func readCoupons(ctx context.Context, r io.Reader) ([]coupon.Coupon, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []coupon.Coupon
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}
		c, err := parseRecord(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, c)
		if len(out)%progressEvery == 0 {
			slog.Info("parse progress", slog.Int("coupons", len(out)))
		}
	}
}

func parseRecord(rec []string) (coupon.Coupon, error) {
	if len(rec) < 2 {
		return coupon.Coupon{}, errors.Errorf("want at least 2 fields, got %d", len(rec))
	}
	c := coupon.Coupon{Code: strings.ToUpper(strings.TrimSpace(rec[0]))}
	if c.Code == "" || len(c.Code) > maxCodeLen {
		return coupon.Coupon{}, errors.Errorf("invalid code %q", rec[0])
	}

	d, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
	if err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s: discount", c.Code)
	}
	if d.IsNegative() || d.GreaterThan(hundred) {
		return coupon.Coupon{}, errors.Errorf("coupon %s: discount %s out of range", c.Code, d)
	}
	c.Discount = d

	if c.ForNewUser, err = parseFlag(rec, 2); err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s: forNewUser", c.Code)
	}
	if c.ForMember, err = parseFlag(rec, 3); err != nil {
		return coupon.Coupon{}, errors.Wrapf(err, "coupon %s: forMember", c.Code)
	}
	if len(rec) > 4 {
		c.Description = strings.TrimSpace(rec[4])
	}
	return c, nil
}

func parseFlag(rec []string, i int) (bool, error) {
	if i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(rec[i]))
}

// dedupe keeps the first occurrence of every code across files in order.
// The bloom filter answers most lookups; only its hits are confirmed
// against the exact set.
func dedupe(files [][]coupon.Coupon) ([]coupon.Coupon, int) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	seen := make(map[string]struct{})

	var (
		out   []coupon.Coupon
		dupes int
	)
	for _, cs := range files {
		for _, c := range cs {
			if filter.TestString(c.Code) {
				if _, ok := seen[c.Code]; ok {
					dupes++
					continue
				}
			}
			filter.AddString(c.Code)
			seen[c.Code] = struct{}{}
			out = append(out, c)
		}
	}
	return out, dupes
}

type couponWriter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

func writeCoupons(ctx context.Context, repo couponWriter, coupons []coupon.Coupon) error {
	slog.Info("writing coupons to database", slog.Int("count", len(coupons)))

	for i := range coupons {
		if err := repo.Upsert(ctx, &coupons[i]); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", coupons[i].Code)
		}
		if (i+1)%1000 == 0 || i+1 == len(coupons) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(coupons)))
		}
	}
	return nil
}
