package database

import (
	"errors"
	"testing"
)

func TestIsCatalogMissing(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrCatalogMissing, true},
		{"sqlite table", errors.New("no such table: access_logs"), true},
		{"sqlite column", errors.New("no such column: tenant_id"), true},
		{"mysql table", errors.New("Error 1146: Table 'app.access_logs' doesn't exist"), true},
		{"mysql column", errors.New("Error 1054: Unknown column 'tenant_id' in 'field list'"), true},
		{"postgres table", errors.New(`ERROR: relation "access_logs" does not exist (SQLSTATE 42P01)`), true},
		{"postgres column", errors.New(`ERROR: column "tenant_id" does not exist (SQLSTATE 42703)`), true},
		{"io failure", errors.New("connection refused"), false},
		{"constraint", errors.New("UNIQUE constraint failed: ip_bans.ip_address"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsCatalogMissing(tc.err); got != tc.want {
				t.Errorf("IsCatalogMissing(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
