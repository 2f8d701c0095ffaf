package storage

import "testing"

func TestDSNSplitsSchemeAndRest(t *testing.T) {
	scheme, rest, err := DSN("sqlite3:///tmp/symbols.db")
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if scheme != "sqlite3" || rest != "/tmp/symbols.db" {
		t.Fatalf("DSN = (%q, %q), want (\"sqlite3\", \"/tmp/symbols.db\")", scheme, rest)
	}
}

func TestDSNRejectsMissingScheme(t *testing.T) {
	if _, _, err := DSN("not-a-dsn"); err == nil {
		t.Fatalf("expected an error for a string with no scheme:// prefix")
	}
}

func TestDriverForSchemeCoversAllFourWiredDrivers(t *testing.T) {
	cases := map[string]string{
		"mysql":      "mysql",
		"postgres":   "postgres",
		"postgresql": "postgres",
		"sqlite3":    "sqlite3",
		"sqlite":     "sqlite3",
		"sqlserver":  "sqlserver",
		"mssql":      "sqlserver",
	}
	for scheme, want := range cases {
		got, ok := driverForScheme(scheme)
		if !ok || got != want {
			t.Fatalf("driverForScheme(%q) = (%q, %v), want (%q, true)", scheme, got, ok, want)
		}
	}
	if _, ok := driverForScheme("mongodb"); ok {
		t.Fatalf("expected an unrecognized scheme to be rejected")
	}
}
