package sqlstore

import (
	"context"
	"testing"

	"github.com/uptrace/bun"
)

func newSQLiteDB(t *testing.T) *bun.DB {
	t.Helper()
	db, err := OpenSQLite("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func TestTokenStoreReadEmpty(t *testing.T) {
	db := newSQLiteDB(t)
	store, err := NewTokenStore(db, "app")
	if err != nil {
		t.Fatalf("NewTokenStore returned error: %v", err)
	}

	data, ok, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if ok || data != nil {
		t.Fatalf("expected empty store, got ok=%v data=%q", ok, data)
	}
}

func TestTokenStoreWriteThenRead(t *testing.T) {
	db := newSQLiteDB(t)
	store, err := NewTokenStore(db, "app")
	if err != nil {
		t.Fatalf("NewTokenStore returned error: %v", err)
	}
	ctx := context.Background()

	payload := []byte(`{"access_token":"abc123","expires_in":3600}`)
	if err := store.Write(ctx, payload); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	data, ok, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected token present after write")
	}
	if string(data) != string(payload) {
		t.Fatalf("expected payload round-tripped, got %q", data)
	}
}

func TestTokenStoreWriteReplacesRecord(t *testing.T) {
	db := newSQLiteDB(t)
	store, err := NewTokenStore(db, "app")
	if err != nil {
		t.Fatalf("NewTokenStore returned error: %v", err)
	}
	ctx := context.Background()

	if err := store.Write(ctx, []byte(`{"access_token":"old"}`)); err != nil {
		t.Fatalf("first Write returned error: %v", err)
	}
	if err := store.Write(ctx, []byte(`{"access_token":"new"}`)); err != nil {
		t.Fatalf("second Write returned error: %v", err)
	}

	data, ok, err := store.Read(ctx)
	if err != nil || !ok {
		t.Fatalf("Read returned ok=%v err=%v", ok, err)
	}
	if string(data) != `{"access_token":"new"}` {
		t.Fatalf("expected the record replaced wholesale, got %q", data)
	}

	count, err := db.NewSelect().Model((*tokenRecord)(nil)).Count(ctx)
	if err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single row per key, got %d", count)
	}
}

func TestTokenStoreWriteSurfacesLookupFailure(t *testing.T) {
	db := newSQLiteDB(t)
	store, err := NewTokenStore(db, "app")
	if err != nil {
		t.Fatalf("NewTokenStore returned error: %v", err)
	}
	ctx := context.Background()

	if err := store.Write(ctx, []byte(`{"access_token":"abc"}`)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	if _, err := db.NewDropTable().Model((*tokenRecord)(nil)).Exec(ctx); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	if err := store.Write(ctx, []byte(`{"access_token":"new"}`)); err == nil {
		t.Fatal("expected a failed row lookup to surface, not fall through to insert")
	}
}

func TestTokenStoresAreKeyScoped(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()

	appStore, err := NewTokenStore(db, "app")
	if err != nil {
		t.Fatalf("NewTokenStore returned error: %v", err)
	}
	otherStore, err := NewTokenStore(db, "other")
	if err != nil {
		t.Fatalf("NewTokenStore returned error: %v", err)
	}

	if err := appStore.Write(ctx, []byte(`{"access_token":"app-token"}`)); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	if _, ok, err := otherStore.Read(ctx); err != nil || ok {
		t.Fatalf("expected the other key to be empty, got ok=%v err=%v", ok, err)
	}
}

func TestDeliveryStoreClaimDedupes(t *testing.T) {
	db := newSQLiteDB(t)
	store, err := NewDeliveryStore(db)
	if err != nil {
		t.Fatalf("NewDeliveryStore returned error: %v", err)
	}
	ctx := context.Background()

	claimed, err := store.Claim(ctx, "follow", "sha256=abc")
	if err != nil {
		t.Fatalf("first Claim returned error: %v", err)
	}
	if !claimed {
		t.Fatal("expected the first claim to win")
	}

	claimed, err = store.Claim(ctx, "follow", "sha256=abc")
	if err != nil {
		t.Fatalf("second Claim returned error: %v", err)
	}
	if claimed {
		t.Fatal("expected the duplicate claim to lose")
	}

	claimed, err = store.Claim(ctx, "changeProfile", "sha256=abc")
	if err != nil {
		t.Fatalf("cross-topic Claim returned error: %v", err)
	}
	if !claimed {
		t.Fatal("expected dedup to be scoped per topic")
	}
}

func TestRepositoryFactoryBuildsStoresFromDB(t *testing.T) {
	db := newSQLiteDB(t)

	factory, err := NewRepositoryFactoryFromDB(db)
	if err != nil {
		t.Fatalf("NewRepositoryFactoryFromDB returned error: %v", err)
	}
	if factory.TokenStore() == nil {
		t.Fatal("expected a token store")
	}
	if factory.DeliveryStore() == nil {
		t.Fatal("expected a delivery store")
	}
	if factory.DB() != db {
		t.Fatal("expected the factory to keep the db handle")
	}

	ctx := context.Background()
	if err := factory.TokenStore().Write(ctx, []byte(`{"access_token":"abc"}`)); err != nil {
		t.Fatalf("factory token store Write returned error: %v", err)
	}
	if _, ok, err := factory.TokenStore().Read(ctx); err != nil || !ok {
		t.Fatalf("factory token store Read returned ok=%v err=%v", ok, err)
	}
}

func TestRepositoryFactoryRejectsNilSource(t *testing.T) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(nil); err == nil {
		t.Fatal("expected nil source to error")
	}
}
