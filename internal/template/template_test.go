// internal/template/template_test.go
package template

import (
	"reflect"
	"testing"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     Vars
		want     string
	}{
		{
			name:     "simple replacement",
			template: "Rule: {{rule_name}}",
			vars:     Vars{"rule_name": "no doomscrolling"},
			want:     "Rule: no doomscrolling",
		},
		{
			name:     "multiple replacements",
			template: "{{activity}} on {{domain}} for {{duration}}",
			vars:     Vars{"activity": "scrolling", "domain": "instagram.com", "duration": "5m0s"},
			want:     "scrolling on instagram.com for 5m0s",
		},
		{
			name:     "inner whitespace",
			template: "{{ app }}",
			vars:     Vars{"app": "Safari"},
			want:     "Safari",
		},
		{
			name:     "missing variable",
			template: "Count: {{count}}",
			vars:     Vars{},
			want:     "Count: {{count}}",
		},
		{
			name:     "no variables",
			template: "Just plain text",
			vars:     Vars{"unused": "value"},
			want:     "Just plain text",
		},
		{
			name:     "control characters stripped",
			template: "{{app}}",
			vars:     Vars{"app": "Saf\x00ari"},
			want:     "Safari",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(tt.template, tt.vars)
			if got != tt.want {
				t.Errorf("Expand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{app}} {{domain}} {{app}}")
	want := []string{"app", "domain"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Placeholders() = %v, want %v", got, want)
	}
}
