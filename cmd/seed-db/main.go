package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/domain/store"
	"github.com/xenking/bazaar/internal/domain/user"
	"github.com/xenking/bazaar/internal/storage/postgres"
)

// catalog is the seed file: sellers, their stores, products and coupons.
type catalog struct {
	Users    []user.User
	Stores   []store.Store
	Products []product.Product
	Coupons  []coupon.Coupon
}

func main() {
	var (
		databaseURL string
		seedFile    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile string) error {
	slog.Info("reading seed file", slog.String("path", seedFile))
	data, err := os.ReadFile(seedFile)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	c, err := parseCatalog(data)
	if err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	users := postgres.NewUserRepository(pool)
	for _, u := range c.Users {
		if err := users.Ensure(ctx, u); err != nil {
			return errors.Wrapf(err, "ensure user %s", u.ID)
		}
	}
	slog.Info("upserted users", slog.Int("count", len(c.Users)))

	stores := postgres.NewStoreRepository(pool)
	for i := range c.Stores {
		if err := stores.Upsert(ctx, &c.Stores[i]); err != nil {
			return errors.Wrapf(err, "upsert store %s", c.Stores[i].ID)
		}
	}
	slog.Info("upserted stores", slog.Int("count", len(c.Stores)))

	products := postgres.NewProductRepository(pool)
	for i := range c.Products {
		if err := products.Upsert(ctx, &c.Products[i]); err != nil {
			return errors.Wrapf(err, "upsert product %s", c.Products[i].ID)
		}
	}
	slog.Info("upserted products", slog.Int("count", len(c.Products)))

	coupons := postgres.NewCouponRepository(pool)
	for i := range c.Coupons {
		if err := coupons.Upsert(ctx, &c.Coupons[i]); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Coupons[i].Code)
		}
		slog.Info("upserted coupon", slog.String("code", c.Coupons[i].Code))
	}

	return nil
}

func parseCatalog(data []byte) (*catalog, error) {
	var c catalog
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "users":
			return d.Arr(func(d *jx.Decoder) error {
				var u user.User
				err := fields(d, map[string]func(*jx.Decoder) error{
					"id":    str(&u.ID),
					"email": str(&u.Email),
					"name":  str(&u.Name),
				})
				c.Users = append(c.Users, u)
				return err
			})
		case "stores":
			return d.Arr(func(d *jx.Decoder) error {
				s := store.Store{Active: true}
				err := fields(d, map[string]func(*jx.Decoder) error{
					"id":     str(&s.ID),
					"userId": str(&s.UserID),
					"name":   str(&s.Name),
					"active": func(d *jx.Decoder) (err error) { s.Active, err = d.Bool(); return err },
				})
				c.Stores = append(c.Stores, s)
				return err
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := parseProduct(d)
				c.Products = append(c.Products, p)
				return err
			})
		case "coupons":
			return d.Arr(func(d *jx.Decoder) error {
				var cp coupon.Coupon
				err := fields(d, map[string]func(*jx.Decoder) error{
					"code":        str(&cp.Code),
					"description": str(&cp.Description),
					"discount":    func(d *jx.Decoder) (err error) { cp.Discount, err = product.DecodeMoney(d); return err },
					"forNewUser":  func(d *jx.Decoder) (err error) { cp.ForNewUser, err = d.Bool(); return err },
					"forMember":   func(d *jx.Decoder) (err error) { cp.ForMember, err = d.Bool(); return err },
				})
				cp.Code = strings.ToUpper(strings.TrimSpace(cp.Code))
				c.Coupons = append(c.Coupons, cp)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func parseProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := fields(d, map[string]func(*jx.Decoder) error{
		"id":      str(&p.ID),
		"storeId": str(&p.StoreID),
		"name":    str(&p.Name),
		"price":   func(d *jx.Decoder) (err error) { p.Price, err = product.DecodeMoney(d); return err },
		"gst":     func(d *jx.Decoder) (err error) { p.GST, err = product.DecodeMoney(d); return err },
		"variants": func(d *jx.Decoder) error {
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			p.Variants, err = product.ParseVariants(raw)
			return err
		},
	})
	if err != nil {
		return p, errors.Wrapf(err, "product %q", p.ID)
	}
	return p, nil
}

// fields decodes an object, dispatching known keys and skipping the rest.
func fields(d *jx.Decoder, known map[string]func(*jx.Decoder) error) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if fn, ok := known[key]; ok {
			return fn(d)
		}
		return d.Skip()
	})
}

func str(dst *string) func(*jx.Decoder) error {
	return func(d *jx.Decoder) (err error) {
		*dst, err = d.Str()
		return err
	}
}
