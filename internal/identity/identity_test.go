package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStatic(t *testing.T) {
	tok, err := Static(" abc ").Token(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("Token() = %q, %v; want abc, nil", tok, err)
	}
	if _, err := Static("").Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty Static error = %v, want ErrNoToken", err)
	}
}

func TestFile_RereadsEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	p := File{Path: path}

	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("missing file error = %v, want ErrNoToken", err)
	}

	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := p.Token(context.Background()); tok != "first" {
		t.Errorf("Token() = %q, want first", tok)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := p.Token(context.Background()); tok != "second" {
		t.Errorf("Token() after rotation = %q, want second", tok)
	}

	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("blank file error = %v, want ErrNoToken", err)
	}
}
