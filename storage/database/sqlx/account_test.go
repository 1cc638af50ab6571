package sqlxrepos

import (
	"testing"

	"github.com/trezcool/shule/core"
)

func TestOrderByWhitelistsColumns(t *testing.T) {
	tests := []struct {
		name     string
		ordering []core.DBOrdering
		want     string
	}{
		{name: "default", want: " ORDER BY created_at DESC"},
		{
			name: "allowed columns",
			ordering: []core.DBOrdering{
				{Field: "username", Ascending: true},
				{Field: "created_at"},
			},
			want: " ORDER BY username ASC, created_at DESC",
		},
		{
			name:     "unknown column dropped",
			ordering: []core.DBOrdering{{Field: "password_hash"}, {Field: "role", Ascending: true}},
			want:     " ORDER BY role ASC",
		},
		{
			name:     "injection attempt dropped",
			ordering: []core.DBOrdering{{Field: "created_at; DROP TABLE account; --"}},
			want:     " ORDER BY created_at DESC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := orderBy(tt.ordering, accountSortColumns); got != tt.want {
				t.Errorf("orderBy() = %q, want %q", got, tt.want)
			}
		})
	}
}
