package static

import (
	"context"
	"testing"
)

func TestResolver(t *testing.T) {
	r := NewResolver(" 10.0.0.1:46801", "", "10.0.0.2:46801 ")

	got, err := r.Resolve(context.Background(), []string{"g"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 2 || got[0] != "10.0.0.1:46801" || got[1] != "10.0.0.2:46801" {
		t.Errorf("Resolve() = %v", got)
	}

	got[0] = "mutated"
	again, _ := r.Resolve(context.Background(), nil)
	if again[0] != "10.0.0.1:46801" {
		t.Error("Resolve() leaked its internal slice")
	}
}

func TestResolver_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewResolver("a:1").Resolve(ctx, nil); err == nil {
		t.Error("Resolve() error = nil for cancelled context")
	}
}
