package core

import (
	"errors"
	"strings"
	"testing"

	"pipelinecore/pkg/domain"
)

func TestSealValueRoundTrip(t *testing.T) {
	sealed, err := SealValue("hunter2", "password")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealPrefix+".") {
		t.Fatalf("sealed value %q lacks format prefix", sealed)
	}
	if strings.Contains(sealed, "hunter2") {
		t.Fatalf("sealed value leaks plaintext: %q", sealed)
	}
	plain, err := UnsealValue(sealed, "password")
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if plain != "hunter2" {
		t.Fatalf("got %q, want hunter2", plain)
	}
}

func TestSealValueRandomized(t *testing.T) {
	a, err := SealValue("same", "password")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	b, err := SealValue("same", "password")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if a == b {
		t.Fatal("two seals of the same value must differ (random salt and nonce)")
	}
}

func TestUnsealValueWrongPassword(t *testing.T) {
	sealed, err := SealValue("value", "right")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_, err = UnsealValue(sealed, "wrong")
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	var sealErr *domain.SealingError
	if !errors.As(err, &sealErr) {
		t.Fatalf("expected SealingError, got %T: %v", err, err)
	}
	if sealErr.Op != "unseal" {
		t.Fatalf("op = %q, want unseal", sealErr.Op)
	}
}

func TestUnsealValueMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"no dots":        "pc1",
		"bad prefix":     "v9.AAAA.BBBB",
		"bad salt":       "pc1.!!!.BBBB",
		"bad payload":    "pc1.AAAAAAAAAAAAAAAAAAAAAA.!!!",
		"short payload":  "pc1.AAAAAAAAAAAAAAAAAAAAAA.AAAA",
		"too many parts": "pc1.a.b.c",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := UnsealValue(token, "password"); err == nil {
				t.Fatalf("expected error for %q", token)
			}
		})
	}
}

func TestSealValueEmptyPassword(t *testing.T) {
	if _, err := SealValue("value", ""); err == nil {
		t.Fatal("expected error sealing with empty password")
	}
	if _, err := UnsealValue("pc1.a.b", ""); err == nil {
		t.Fatal("expected error unsealing with empty password")
	}
}
