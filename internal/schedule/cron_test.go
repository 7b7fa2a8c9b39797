package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestValidateCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"* * * * *", false},
		{"0 9 * * 1-5", false},
		{"*/15 * * * *", false},
		{"0 0 1 1 *", false},
		{"", true},
		{"not a cron", true},
		{"* * * *", true},          // too few fields
		{"0 0 * * * *", true},      // 6 fields (seconds not supported)
		{"61 * * * *", true},       // minute out of range
		{"@every 5m", true},        // descriptors not enabled
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCron(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCron) {
				t.Errorf("ValidateCron(%q) error = %v, want ErrInvalidCron", tt.expr, err)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	base := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"every minute", "* * * * *", base.Add(time.Minute)},
		{"daily at nine", "0 9 * * *", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)},
		{"hourly on the hour", "0 * * * *", time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(tt.expr, base)
			if err != nil {
				t.Fatalf("NextRun() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRun(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestNextRun_InvalidExpression(t *testing.T) {
	if _, err := NextRun("bogus", time.Now()); err == nil {
		t.Errorf("NextRun(bogus) = nil error, want ErrInvalidCron")
	}
}
