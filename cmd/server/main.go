package main

import (
	"context"
	"fmt"
	"log"

	"loom-backend/internal/app"
	"loom-backend/internal/config"
	"loom-backend/internal/engine"
	"loom-backend/internal/schema"
	"loom-backend/internal/store"
	"loom-backend/internal/telemetry"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	shutdown, err := telemetry.Setup(cfg.Telemetry.Endpoint, cfg.Telemetry.Service)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer shutdown(ctx)

	reg := engine.NewRegistry()
	if err := registerTypes(reg); err != nil {
		log.Fatalf("Failed to register types: %v", err)
	}

	if err := bindStores(ctx, reg, cfg); err != nil {
		log.Fatalf("Failed to bind stores: %v", err)
	}
	log.Println("Types bound")

	fa := app.New(reg, cfg)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(fa.Listen(addr))
}

func registerTypes(reg *engine.Registry) error {
	specs := []engine.TypeSpec{
		{
			Name: "user",
			Fields: []schema.Field{
				{Name: "email", Type: schema.TypeString, Required: true},
				{Name: "name", Type: schema.TypeString, Nullable: true},
				{Name: "password_hash", Type: schema.TypeString, Private: true, Nullable: true},
			},
			Relationships: []engine.RelationshipSpec{
				{
					Name:  "accounts",
					Joins: []engine.JoinSpec{{Left: "user._id", Right: "account.owner_id"}},
					Many:  true,
				},
			},
			Computed: []engine.ComputedSpec{
				{Name: "display_name", Expr: `this.name != nil ? this.name : this.email`},
			},
		},
		{
			Name: "account",
			Fields: []schema.Field{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "owner_id", Type: schema.TypeUUID, Nullable: true},
				{Name: "balance", Type: schema.TypeFloat, Default: float64(0)},
			},
			Relationships: []engine.RelationshipSpec{
				{
					Name:     "owner",
					Joins:    []engine.JoinSpec{{Left: "account.owner_id", Right: "user._id"}},
					Nullable: true,
				},
			},
		},
		{
			Name: "tree",
			Fields: []schema.Field{
				{Name: "name", Type: schema.TypeString, Required: true},
				{Name: "parent_id", Type: schema.TypeUUID, Nullable: true},
			},
			Relationships: []engine.RelationshipSpec{
				{
					Name:     "parent",
					Joins:    []engine.JoinSpec{{Left: "tree.parent_id", Right: "tree._id"}},
					Nullable: true,
				},
				{
					Name:  "children",
					Joins: []engine.JoinSpec{{Left: "tree._id", Right: "tree.parent_id"}},
					Many:  true,
				},
			},
		},
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func bindStores(ctx context.Context, reg *engine.Registry, cfg *config.Config) error {
	if cfg.Database.IsMemory() {
		return reg.BindWith(func(string) store.Store {
			return store.NewMemoryStore()
		})
	}

	dialect := store.NewDialect(cfg.Database.Driver)
	db, err := store.Open(ctx, dialect, cfg.Database.DSN())
	if err != nil {
		return err
	}
	if cfg.Database.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.Database.PoolSize)
	}
	return reg.BindWith(func(name string) store.Store {
		return store.NewSQLStore(db, dialect, name+"s")
	})
}
