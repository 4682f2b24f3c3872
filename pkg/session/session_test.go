package session

import (
	"errors"
	"testing"
)

func TestParseIntensity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Intensity
		level   int
		wantErr bool
	}{
		{in: "quick", want: IntensityQuick, level: 0},
		{in: "Standard", want: IntensityStandard, level: 1},
		{in: "THOROUGH", want: IntensityThorough, level: 2},
		{in: "extreme", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseIntensity(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseIntensity(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIntensity(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want || got.MaxLevel() != tt.level {
			t.Errorf("ParseIntensity(%q) = %v (level %d), want %v (level %d)",
				tt.in, got, got.MaxLevel(), tt.want, tt.level)
		}
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Target
		wantErr bool
	}{
		{
			name: "full url",
			in:   "https://app.example.com/",
			want: Target{Raw: "https://app.example.com/", Host: "app.example.com", URL: "https://app.example.com", WebPort: 443},
		},
		{
			name: "url with port",
			in:   "http://10.0.0.5:8080",
			want: Target{Raw: "http://10.0.0.5:8080", Host: "10.0.0.5", URL: "http://10.0.0.5:8080", WebPort: 8080},
		},
		{
			name: "host with web port",
			in:   "example.com:8443",
			want: Target{Raw: "example.com:8443", Host: "example.com", URL: "https://example.com:8443", WebPort: 8443},
		},
		{
			name: "host with non-web port",
			in:   "example.com:5432",
			want: Target{Raw: "example.com:5432", Host: "example.com"},
		},
		{
			name: "bare host",
			in:   "example.com",
			want: Target{Raw: "example.com", Host: "example.com"},
		},
		{name: "empty", in: "   ", wantErr: true},
		{name: "bad port", in: "example.com:99999", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTarget(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTargetEmptyError(t *testing.T) {
	t.Parallel()
	_, err := ParseTarget("")
	if !errors.Is(err, ErrEmptyTarget) {
		t.Errorf("ParseTarget(\"\") error = %v, want ErrEmptyTarget", err)
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusCompleted, StatusStopped, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestNewSession(t *testing.T) {
	t.Parallel()

	tgt, err := ParseTarget("https://example.com")
	if err != nil {
		t.Fatalf("ParseTarget() error: %v", err)
	}
	s := New(tgt, "/src/app", IntensityStandard)
	if s.ID == "" {
		t.Errorf("New() session has empty ID")
	}
	if s.Status != StatusPending {
		t.Errorf("Status = %s, want pending", s.Status)
	}
	if !s.HasRepo() {
		t.Errorf("HasRepo() = false with repo path set")
	}
}
