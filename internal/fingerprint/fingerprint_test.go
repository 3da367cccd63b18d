package fingerprint

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSum(t *testing.T) {
	tests := []struct {
		name   string
		a, b   string
		wantEq bool
	}{
		{name: "identical content", a: "<html>a</html>", b: "<html>a</html>", wantEq: true},
		{name: "one byte differs", a: "<html>a</html>", b: "<html>b</html>", wantEq: false},
		{name: "trailing newline differs", a: "page", b: "page\n", wantEq: false},
		{name: "empty content", a: "", b: "", wantEq: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha, hb := Sum([]byte(tt.a)), Sum([]byte(tt.b))
			if diff := cmp.Diff(tt.wantEq, ha == hb); diff != "" {
				t.Errorf("equality mismatch (-want +got):\n%s\n%s vs %s", diff, ha, hb)
			}
			if diff := cmp.Diff(64, len(ha)); diff != "" {
				t.Errorf("digest length mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSumKnownVector(t *testing.T) {
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if diff := cmp.Diff(want, Sum(nil)); diff != "" {
		t.Errorf("empty digest mismatch (-want +got):\n%s", diff)
	}
}

func TestKey(t *testing.T) {
	k := Key("https://example.com/page")
	if diff := cmp.Diff(16, len(k)); diff != "" {
		t.Errorf("key length mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(k, Key("https://example.com/page")); diff != "" {
		t.Errorf("key not stable (-want +got):\n%s", diff)
	}
	if Key("https://example.com/a") == Key("https://example.com/b") {
		t.Error("distinct inputs produced the same key")
	}
}
