package cursor

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/0xqtpie/pm-indexer/internal/domain"
)

func TestOffset_RoundTrip(t *testing.T) {
	fp := Fingerprint("climate markets", map[string]string{"status": "open"}, "", "")

	token := EncodeOffset(Offset{Offset: 40, Fingerprint: fp})
	got, err := DecodeOffset(token, fp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Offset != 40 {
		t.Errorf("offset = %d, want 40", got.Offset)
	}
}

func TestOffset_FingerprintMismatch(t *testing.T) {
	fp1 := Fingerprint("climate", nil, "", "")
	fp2 := Fingerprint("climate", map[string]string{"status": "open"}, "", "")

	token := EncodeOffset(Offset{Offset: 20, Fingerprint: fp1})
	_, err := DecodeOffset(token, fp2)
	if !errors.Is(err, domain.ErrInvalidCursor) {
		t.Fatalf("changed filters must invalidate the cursor, got %v", err)
	}
}

func TestKeyset_RoundTrip(t *testing.T) {
	c := Keyset{Sort: "volume", Order: domain.OrderDesc, LastValue: "1523.5", LastID: "m-42"}

	token := EncodeKeyset(c)
	got, err := DecodeKeyset(token, "volume", domain.OrderDesc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != c {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestKeyset_SortMismatch(t *testing.T) {
	token := EncodeKeyset(Keyset{Sort: "volume", Order: domain.OrderDesc, LastValue: "1", LastID: "m-1"})

	if _, err := DecodeKeyset(token, "close_at", domain.OrderDesc); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Errorf("sort mismatch should be invalid, got %v", err)
	}
	if _, err := DecodeKeyset(token, "volume", domain.OrderAsc); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Errorf("order mismatch should be invalid, got %v", err)
	}
}

func TestDecode_Garbage(t *testing.T) {
	cases := map[string]string{
		"not base64":     "%%%not-base64%%%",
		"not json":       base64.URLEncoding.EncodeToString([]byte("hello")),
		"wrong type":     EncodeKeyset(Keyset{Sort: "volume", Order: domain.OrderAsc, LastID: "x"}),
		"missing fields": base64.URLEncoding.EncodeToString([]byte(`{"t":"offset"}`)),
	}

	for name, token := range cases {
		if _, err := DecodeOffset(token, "fp"); !errors.Is(err, domain.ErrInvalidCursor) {
			t.Errorf("%s: expected ErrInvalidCursor, got %v", name, err)
		}
	}
}

func TestDecode_NegativeOffset(t *testing.T) {
	fp := Fingerprint("q", nil, "", "")
	token := base64.URLEncoding.EncodeToString([]byte(`{"t":"offset","o":-5,"f":"` + fp + `"}`))

	if _, err := DecodeOffset(token, fp); !errors.Is(err, domain.ErrInvalidCursor) {
		t.Errorf("negative offset should be invalid, got %v", err)
	}
}

func TestFingerprint_Normalization(t *testing.T) {
	a := Fingerprint("  Climate Markets ", map[string]string{"status": "open", "category": ""}, "", "")
	b := Fingerprint("climate markets", map[string]string{"status": "open"}, "", "")
	if a != b {
		t.Error("fingerprint should normalize case, whitespace, and empty filters")
	}

	c := Fingerprint("climate markets", map[string]string{"status": "closed"}, "", "")
	if a == c {
		t.Error("different filters must produce different fingerprints")
	}
}
