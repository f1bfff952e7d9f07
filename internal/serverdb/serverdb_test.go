package serverdb

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/salonsync/salonsync/internal/syncerr"
)

func newTestDB(t *testing.T) *ServerDB {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fixture is one business with an owner, an employee-role user, an
// employee and a service.
type fixture struct {
	db       *ServerDB
	owner    *User
	staff    *User
	business *Business
	employee *Employee
	service  *Service
}

func newFixture(t *testing.T, db *ServerDB) *fixture {
	t.Helper()
	owner, err := db.CreateUser("owner@salon.test")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	staff, err := db.CreateUser("staff@salon.test")
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	b, err := db.CreateBusiness("Salon Uno", "Europe/Madrid", owner.ID)
	if err != nil {
		t.Fatalf("create business: %v", err)
	}
	if _, err := db.AddMember(b.ID, staff.ID, RoleEmployee); err != nil {
		t.Fatalf("add member: %v", err)
	}
	e, err := db.CreateEmployee(b.ID, "Ana")
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	s, err := db.CreateService(b.ID, "Corte", 30)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return &fixture{db: db, owner: owner, staff: staff, business: b, employee: e, service: s}
}

func TestOpenSetsSchemaVersion(t *testing.T) {
	db := newTestDB(t)
	if v := db.getSchemaVersion(); v != ServerSchemaVersion {
		t.Fatalf("schema version = %d, want %d", v, ServerSchemaVersion)
	}
	n, err := db.RunMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("migrations run on current db = %d", n)
	}
}

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	u, err := db.CreateUser("Alice@Example.COM")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email not lowercased: %s", u.Email)
	}
	if !strings.HasPrefix(u.ID, "u_") {
		t.Errorf("unexpected id prefix: %s", u.ID)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateUser("dup@test.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateUser("DUP@test.com"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate email: err = %v, want ErrEmailTaken", err)
	}
}

func TestCreateUserEmptyEmail(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateUser(" "); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestGetUser(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("find@test.com")

	found, err := db.GetUserByID(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.Email != "find@test.com" {
		t.Fatalf("GetUserByID = %+v", found)
	}

	found, err = db.GetUserByEmail("FIND@test.com")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != u.ID {
		t.Fatalf("GetUserByEmail = %+v", found)
	}

	missing, err := db.GetUserByID("u_nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatal("expected nil for missing user")
	}
}

func TestGenerateAndVerifyAPIKey(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("keys@test.com")

	plaintext, ak, err := db.GenerateAPIKey(u.ID, "reception", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(plaintext, apiKeyPrefix) {
		t.Fatalf("key prefix: %s", plaintext)
	}
	if len(plaintext) != len(apiKeyPrefix)+keyLength {
		t.Fatalf("key length = %d", len(plaintext))
	}
	if ak.KeyPrefix != plaintext[len(apiKeyPrefix):len(apiKeyPrefix)+8] {
		t.Fatalf("stored prefix = %s", ak.KeyPrefix)
	}

	gotKey, gotUser, err := db.VerifyAPIKey(plaintext)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if gotKey == nil || gotKey.ID != ak.ID {
		t.Fatalf("verified key = %+v", gotKey)
	}
	if gotUser == nil || gotUser.Email != "keys@test.com" {
		t.Fatalf("verified user = %+v", gotUser)
	}
	if gotKey.LastUsedAt == nil {
		t.Fatal("last_used_at not set")
	}
}

func TestVerifyAPIKeyUnknownAndExpired(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("exp@test.com")

	ak, usr, err := db.VerifyAPIKey("ss_live_nope")
	if err != nil || ak != nil || usr != nil {
		t.Fatalf("unknown key: %v %v %v", ak, usr, err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	plaintext, _, err := db.GenerateAPIKey(u.ID, "old", &past)
	if err != nil {
		t.Fatal(err)
	}
	ak, usr, err = db.VerifyAPIKey(plaintext)
	if err != nil || ak != nil || usr != nil {
		t.Fatalf("expired key should not verify: %v %v %v", ak, usr, err)
	}
}

func TestGenerateAPIKeyUnknownUser(t *testing.T) {
	db := newTestDB(t)
	if _, _, err := db.GenerateAPIKey("u_missing", "x", nil); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestCreateBusinessAddsOwner(t *testing.T) {
	db := newTestDB(t)
	f := newFixture(t, db)

	m, err := db.GetMembership(f.business.ID, f.owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Role != RoleOwner {
		t.Fatalf("owner membership = %+v", m)
	}

	b, err := db.GetBusiness(f.business.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Location().String() != "Europe/Madrid" {
		t.Fatalf("location = %s", b.Location())
	}

	list, err := db.ListUserMemberships(f.staff.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].BusinessName != "Salon Uno" || list[0].Role != RoleEmployee {
		t.Fatalf("memberships = %+v", list)
	}
}

func TestCreateBusinessRejectsBadTimezone(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateBusiness("X", "Mars/Olympus", ""); err == nil {
		t.Fatal("expected invalid timezone error")
	}
}

func TestAddMemberValidation(t *testing.T) {
	db := newTestDB(t)
	f := newFixture(t, db)
	other, _ := db.CreateUser("other@test.com")

	if _, err := db.AddMember(f.business.ID, other.ID, "writer"); err == nil {
		t.Fatal("expected invalid role error")
	}
	if _, err := db.AddMember("b_missing", other.ID, RoleAdmin); err == nil {
		t.Fatal("expected missing business error")
	}
	if _, err := db.AddMember(f.business.ID, "u_missing", RoleAdmin); err == nil {
		t.Fatal("expected missing user error")
	}
}

func TestAuthorize(t *testing.T) {
	db := newTestDB(t)
	f := newFixture(t, db)
	outsider, _ := db.CreateUser("outsider@test.com")

	tests := []struct {
		name    string
		userID  string
		role    string
		wantErr bool
	}{
		{"owner can push", f.owner.ID, RoleAdmin, false},
		{"employee can pull", f.staff.ID, RoleEmployee, false},
		{"employee cannot push", f.staff.ID, RoleAdmin, true},
		{"outsider cannot pull", outsider.ID, RoleEmployee, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Authorize(f.business.ID, tt.userID, tt.role)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, syncerr.ErrPermissionDenied) {
				t.Fatalf("denial kind = %v", syncerr.KindOf(err))
			}
		})
	}
}

func TestRateLimitEvents(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return base })

	if err := db.InsertRateLimitEvent("", "10.0.0.1", "auth"); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertRateLimitEvent("ak_1", "10.0.0.2", "push"); err != nil {
		t.Fatal(err)
	}

	events, err := db.RecentRateLimitEvents(base.Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	var keyed int
	for _, e := range events {
		if e.KeyID != nil {
			keyed++
		}
	}
	if keyed != 1 {
		t.Fatalf("keyed events = %d, want 1", keyed)
	}

	db.SetClock(func() time.Time { return base.Add(48 * time.Hour) })
	n, err := db.CleanupRateLimitEvents(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("cleaned = %d, want 2", n)
	}
}
