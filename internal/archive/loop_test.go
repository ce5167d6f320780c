package archive

import (
	"testing"
	"time"
)

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 3, 10, 14, 30, 45, 0, time.UTC) // a Tuesday

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			name: "every minute",
			expr: "* * * * *",
			want: time.Date(2026, 3, 10, 14, 31, 0, 0, time.UTC),
		},
		{
			name: "daily at three",
			expr: "0 3 * * *",
			want: time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "first of month",
			expr: "0 3 1 * *",
			want: time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "later same hour",
			expr: "45 14 * * *",
			want: time.Date(2026, 3, 10, 14, 45, 0, 0, time.UTC),
		},
		{
			name: "sunday only",
			expr: "0 0 * * 0",
			want: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "value list",
			expr: "0 6,18 * * *",
			want: time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, after)
			if err != nil {
				t.Fatalf("nextCronTime(%q): %v", tt.expr, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextCronTime_InvalidExpressions(t *testing.T) {
	after := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	for _, expr := range []string{"", "* * *", "x * * * *", "1,y * * * *"} {
		if _, err := nextCronTime(expr, after); err == nil {
			t.Fatalf("nextCronTime(%q): expected error", expr)
		}
	}
}
