package paths

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple lowercase", input: "hello", want: "hello"},
		{name: "uppercase to lowercase", input: "Hello", want: "hello"},
		{name: "spaces to hyphens", input: "Hello World", want: "hello-world"},
		{name: "whitespace run collapses", input: "hello \t\n  world", want: "hello-world"},
		{name: "repeated hyphens collapse", input: "hello---world", want: "hello-world"},
		{name: "hyphen next to space collapses", input: "hello - world", want: "hello-world"},
		{name: "underscores are stripped", input: "hello_world", want: "helloworld"},
		{name: "punctuation stripped", input: "Migrate IaC: phase #2!", want: "migrate-iac-phase-2"},
		{name: "leading/trailing hyphens removed", input: "  -hello- ", want: "hello"},
		{name: "non-ascii stripped", input: "café déjà vu", want: "caf-dj-vu"},
		{name: "digits kept", input: "2024 Q3 plan", want: "2024-q3-plan"},
		{name: "empty", input: "", want: ""},
		{name: "only special characters", input: "@#$%", want: ""},
		{name: "only hyphens", input: "---", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeSlug(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple", input: "Platform Bootstrap", want: "platform-bootstrap"},
		{name: "starts with number", input: "123hello", want: "123hello"},
		{name: "long input is clipped", input: strings.Repeat("a", 300), want: strings.Repeat("a", maxSlugLen)},
		{name: "clipping does not leave trailing hyphen", input: strings.Repeat("a", maxSlugLen-1) + " b", want: strings.Repeat("a", maxSlugLen-1)},
		{name: "empty string", input: "", wantErr: true},
		{name: "only special characters", input: "@@@", wantErr: true},
		{name: "only whitespace", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSlug(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeSlug() expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSlug() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeSlug() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateSlugForm(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple lowercase", input: "hello", wantErr: false},
		{name: "with hyphens", input: "hello-world", wantErr: false},
		{name: "single char", input: "a", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "uppercase", input: "Hello", wantErr: true},
		{name: "double hyphen", input: "hello--world", wantErr: true},
		{name: "trailing hyphen", input: "hello-", wantErr: true},
		{name: "starts with hyphen", input: "-hello", wantErr: true},
		{name: "too long", input: strings.Repeat("a", maxSlugLen+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSlug(tt.input)
			if tt.wantErr && err == nil {
				t.Error("validateSlug() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("validateSlug() unexpected error: %v", err)
			}
		})
	}
}

func TestSlugProperties(t *testing.T) {
	inputs := []string{
		"hello",
		"Hello World",
		"test_case",
		"mix123-ABC",
		"  Épic: Ünïcode  ",
		"a  --  b",
		"",
		"@#$%",
	}

	t.Run("deterministic", func(t *testing.T) {
		for _, input := range inputs {
			if Slugify(input) != Slugify(input) {
				t.Errorf("Slugify(%q) is not deterministic", input)
			}
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		for _, input := range inputs {
			once := Slugify(input)
			if twice := Slugify(once); twice != once {
				t.Errorf("Slugify not idempotent: %q -> %q -> %q", input, once, twice)
			}
		}
	})

	t.Run("non-empty slug is always valid", func(t *testing.T) {
		for _, input := range inputs {
			slug := Slugify(input)
			if slug == "" {
				continue
			}
			if err := validateSlug(slug); err != nil {
				t.Errorf("Slugify(%q) = %q failed validation: %v", input, slug, err)
			}
		}
	})
}
