package auth

import (
	"strings"
	"testing"
)

func TestNobodyAlwaysSucceeds(t *testing.T) {
	n := Nobody{UserID: 7, Realm: "dev"}
	id, err := n.Authenticate("anything at all")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if id.UserID != 7 || id.Realm != "dev" {
		t.Errorf("got %+v, want UserID=7 Realm=dev", id)
	}
}

func TestStaticTableLookup(t *testing.T) {
	src := strings.NewReader(`
# comment line, skipped
tokenA 1 sync
tokenB 2 sync

malformed line here
tokenC notanumber sync
`)
	table, err := NewStaticTable(src)
	if err != nil {
		t.Fatalf("NewStaticTable: %s", err)
	}

	id, err := table.Authenticate("tokenA")
	if err != nil {
		t.Fatalf("Authenticate(tokenA): %s", err)
	}
	if id.UserID != 1 || id.Realm != "sync" {
		t.Errorf("tokenA resolved to %+v, want UserID=1 Realm=sync", id)
	}

	id2, err := table.Authenticate("tokenB")
	if err != nil || id2.UserID != 2 {
		t.Errorf("tokenB resolved to %+v, err=%v", id2, err)
	}

	if _, err := table.Authenticate("tokenC"); err == nil {
		t.Error("tokenC has a non-numeric user id and should not have been loaded")
	}
}

func TestStaticTableUnknownCredentials(t *testing.T) {
	table, err := NewStaticTable(strings.NewReader("tokenA 1 sync\n"))
	if err != nil {
		t.Fatalf("NewStaticTable: %s", err)
	}
	_, err = table.Authenticate("nonexistent")
	if err == nil {
		t.Fatal("expected an error for unknown credentials")
	}
	if _, ok := err.(ErrInvalid); !ok {
		t.Errorf("got error of type %T, want ErrInvalid", err)
	}
}

func TestErrInvalidMessage(t *testing.T) {
	e := ErrInvalid{Reason: "expired"}
	if !strings.Contains(e.Error(), "expired") {
		t.Errorf("Error() = %q, want it to mention the reason", e.Error())
	}
}
