// Command bootstrap creates the initial center, super admin account and
// assignment so a fresh installation can be logged into.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"medregis.org/internal/auth"
)

func main() {
	log.SetFlags(0)
	var (
		dsn        = flag.String("dsn", os.Getenv("MEDREGIS_PG_DSN"), "PostgreSQL DSN")
		email      = flag.String("email", "", "Super admin email")
		centerName = flag.String("center", "Main Center", "Initial center name")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or MEDREGIS_PG_DSN")
	}
	if *email == "" {
		log.Fatal("missing -email")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := auth.NewPGStore(db)
	policy := auth.DefaultPolicy()

	temp, err := auth.GenerateTemporary()
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}
	hash, err := policy.Hash(temp)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	center := &auth.Center{Name: *centerName, Active: true}
	if err := store.Centers(ctx).Create(ctx, center); err != nil {
		log.Fatalf("create center: %v", err)
	}

	user := &auth.User{
		Email:              *email,
		PasswordHash:       hash,
		Active:             true,
		MustChangePassword: true,
	}
	if err := store.Users(ctx).Create(ctx, user); err != nil {
		log.Fatalf("create user: %v", err)
	}

	directory := auth.NewDirectory(store)
	if _, err := directory.Grant(ctx, user.ID, center.ID, auth.RoleSuperAdmin, user.ID); err != nil {
		log.Fatalf("grant assignment: %v", err)
	}

	log.Printf("center:   %s (%s)", center.Name, center.ID)
	log.Printf("user:     %s (%s)", user.Email, user.ID)
	log.Printf("password: %s (must be changed at first login)", temp)
}
