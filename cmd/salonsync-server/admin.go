package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/salonsync/salonsync/internal/api"
	"github.com/salonsync/salonsync/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create-user":
		runAdminCreateUser(args[1:])
	case "create-key":
		runAdminCreateKey(args[1:])
	case "create-business":
		runAdminCreateBusiness(args[1:])
	case "add-member":
		runAdminAddMember(args[1:])
	case "add-employee":
		runAdminAddEmployee(args[1:])
	case "add-service":
		runAdminAddService(args[1:])
	case "rate-limits":
		runAdminRateLimits(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: salonsync-server admin <command> [flags]

Commands:
  create-user      Create a user
  create-key       Create an API key for a user
  create-business  Create a business owned by a user
  add-member       Add a user to a business with a role
  add-employee     Add a staff member to a business
  add-service      Add a service to a business
  rate-limits      Show recent rate limit violations`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// dbFlags registers the shared --driver/--dsn flags.
func dbFlags(fs *flag.FlagSet) (driver, dsn *string) {
	driver = fs.String("driver", "", "database driver: sqlite or postgres (default: SYNC_DATABASE_DRIVER)")
	dsn = fs.String("dsn", "", "database DSN (default: SYNC_DATABASE_DSN)")
	return driver, dsn
}

func openDB(driver, dsn string) *serverdb.ServerDB {
	cfg := api.LoadConfig()
	if driver == "" {
		driver = cfg.DatabaseDriver
	}
	if dsn == "" {
		dsn = cfg.DatabaseDSN
	}
	store, err := serverdb.Open(driver, dsn)
	if err != nil {
		fail("open database: %v", err)
	}
	return store
}

func required(fs *flag.FlagSet, vals map[string]string) {
	for name, v := range vals {
		if strings.TrimSpace(v) == "" {
			fmt.Fprintf(os.Stderr, "error: --%s is required\n", name)
			fs.Usage()
			os.Exit(1)
		}
	}
}

// userByEmail resolves a user or exits.
func userByEmail(store *serverdb.ServerDB, email string) *serverdb.User {
	u, err := store.GetUserByEmail(email)
	if err != nil {
		fail("%v", err)
	}
	if u == nil {
		fail("user not found: %s", email)
	}
	return u
}

func runAdminCreateUser(args []string) {
	fs := flag.NewFlagSet("admin create-user", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	driver, dsn := dbFlags(fs)
	fs.Parse(args)
	required(fs, map[string]string{"email": *email})

	store := openDB(*driver, *dsn)
	defer store.Close()

	u, err := store.CreateUser(*email)
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("created user %s (%s)\n", u.Email, u.ID)
}

func runAdminCreateKey(args []string) {
	fs := flag.NewFlagSet("admin create-key", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	name := fs.String("name", "reception", "key name")
	expires := fs.Duration("expires", 0, "key lifetime (e.g. 720h); 0 never expires")
	driver, dsn := dbFlags(fs)
	fs.Parse(args)
	required(fs, map[string]string{"email": *email})

	store := openDB(*driver, *dsn)
	defer store.Close()

	u := userByEmail(store, *email)
	var expiresAt *time.Time
	if *expires > 0 {
		t := time.Now().Add(*expires).UTC()
		expiresAt = &t
	}
	plaintext, key, err := store.GenerateAPIKey(u.ID, *name, expiresAt)
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("key id:  %s\n", key.ID)
	fmt.Printf("api key: %s\n", plaintext)
	fmt.Println("store this key now; it cannot be shown again")
}

func runAdminCreateBusiness(args []string) {
	fs := flag.NewFlagSet("admin create-business", flag.ExitOnError)
	name := fs.String("name", "", "business name")
	tz := fs.String("timezone", "UTC", "IANA timezone (e.g. Europe/Madrid)")
	owner := fs.String("owner", "", "owner email address")
	driver, dsn := dbFlags(fs)
	fs.Parse(args)
	required(fs, map[string]string{"name": *name, "owner": *owner})

	store := openDB(*driver, *dsn)
	defer store.Close()

	u := userByEmail(store, *owner)
	b, err := store.CreateBusiness(*name, *tz, u.ID)
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("created business %q (%s) in %s, owner %s\n", b.Name, b.ID, b.Timezone, u.Email)
}

func runAdminAddMember(args []string) {
	fs := flag.NewFlagSet("admin add-member", flag.ExitOnError)
	business := fs.String("business", "", "business id")
	email := fs.String("email", "", "user email address")
	role := fs.String("role", serverdb.RoleEmployee, "role: owner, admin or employee")
	driver, dsn := dbFlags(fs)
	fs.Parse(args)
	required(fs, map[string]string{"business": *business, "email": *email})

	store := openDB(*driver, *dsn)
	defer store.Close()

	u := userByEmail(store, *email)
	m, err := store.AddMember(*business, u.ID, *role)
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("%s is %s of %s\n", u.Email, m.Role, m.BusinessID)
}

func runAdminAddEmployee(args []string) {
	fs := flag.NewFlagSet("admin add-employee", flag.ExitOnError)
	business := fs.String("business", "", "business id")
	name := fs.String("name", "", "employee display name")
	driver, dsn := dbFlags(fs)
	fs.Parse(args)
	required(fs, map[string]string{"business": *business, "name": *name})

	store := openDB(*driver, *dsn)
	defer store.Close()

	e, err := store.CreateEmployee(*business, *name)
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("created employee %s (%s)\n", e.Name, e.ID)
}

func runAdminAddService(args []string) {
	fs := flag.NewFlagSet("admin add-service", flag.ExitOnError)
	business := fs.String("business", "", "business id")
	name := fs.String("name", "", "service name")
	minutes := fs.Int("minutes", 30, "duration in minutes")
	driver, dsn := dbFlags(fs)
	fs.Parse(args)
	required(fs, map[string]string{"business": *business, "name": *name})

	store := openDB(*driver, *dsn)
	defer store.Close()

	s, err := store.CreateService(*business, *name, *minutes)
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("created service %s (%s), %d min\n", s.Name, s.ID, s.DurationMinutes)
}

func runAdminRateLimits(args []string) {
	fs := flag.NewFlagSet("admin rate-limits", flag.ExitOnError)
	since := fs.Duration("since", 24*time.Hour, "look back this far")
	limit := fs.Int("limit", 50, "max events")
	driver, dsn := dbFlags(fs)
	fs.Parse(args)

	store := openDB(*driver, *dsn)
	defer store.Close()

	events, err := store.RecentRateLimitEvents(time.Now().Add(-*since), *limit)
	if err != nil {
		fail("%v", err)
	}
	if len(events) == 0 {
		fmt.Println("no rate limit events")
		return
	}
	for _, e := range events {
		key := "-"
		if e.KeyID != nil {
			key = *e.KeyID
		}
		fmt.Printf("%s  %-6s  %-15s  %s\n", e.CreatedAt.Format(time.RFC3339), e.EndpointClass, e.IP, key)
	}
}
