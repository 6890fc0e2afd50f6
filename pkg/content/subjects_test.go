package content

import (
	"reflect"
	"testing"
)

func TestKeywordClassifier(t *testing.T) {
	kc := NewKeywordClassifier()

	tests := []struct {
		text string
		want []string
	}{
		{
			"We discuss network slicing and orchestrate the RAN via an API",
			[]string{"slice/slicing", "orchestration", "api", "orchestrator", "ran"},
		},
		{"QoS and SLA targets for backhaul", []string{"backhaul", "qos", "sla"}},
		{"Nothing relevant here", []string{}},
		{"", []string{}},
	}

	for _, tt := range tests {
		if got := kc.Classify(tt.text); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestKeywordClassifierCustomVocabulary(t *testing.T) {
	kc := NewKeywordClassifier("kubernetes", "edge computing")
	got := kc.Classify("Running kubernetes at the edge")
	want := []string{"kubernetes", "edge computing"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Classify = %v, want %v", got, want)
	}
}
