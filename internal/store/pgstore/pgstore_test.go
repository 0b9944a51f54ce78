package pgstore

import (
	"testing"

	"github.com/linnemanlabs/aegis/internal/fault"
	"github.com/linnemanlabs/aegis/internal/store"
)

func TestLikePrefixEscapesMetacharacters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"EVENT#", "EVENT#%"},
		{"100%", `100\%%`},
		{"a_b", `a\_b%`},
		{`a\b`, `a\\b%`},
	}
	for _, tt := range tests {
		if got := likePrefix(tt.in); got != tt.want {
			t.Errorf("likePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	token := encodeToken("SEVERITY#P1#INCIDENT#INC-2", "INCIDENT#INC-2", "METADATA")
	idxSK, pk, sk, err := decodeToken(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if idxSK != "SEVERITY#P1#INCIDENT#INC-2" || pk != "INCIDENT#INC-2" || sk != "METADATA" {
		t.Fatalf("round trip = (%q, %q, %q)", idxSK, pk, sk)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, _, _, err := decodeToken("not base64!!!"); !fault.IsValidation(err) {
		t.Fatalf("error kind = %v, want validation", fault.KindOf(err))
	}
	if _, _, _, err := decodeToken("YWJj"); !fault.IsValidation(err) {
		t.Fatal("token without separators accepted")
	}
}

func TestCheckCond(t *testing.T) {
	t.Parallel()

	item := store.Item{"status": "OPEN"}

	if err := checkCond(store.IfNotExists(), nil, false); err != nil {
		t.Fatalf("not-exists on absent: %v", err)
	}
	if err := checkCond(store.IfNotExists(), item, true); !fault.IsConditionFailed(err) {
		t.Fatal("not-exists on present item accepted")
	}
	if err := checkCond(store.IfFieldEquals("status", "OPEN"), item, true); err != nil {
		t.Fatalf("matching field equals: %v", err)
	}
	if err := checkCond(store.IfFieldEquals("status", "CLOSED"), item, true); !fault.IsConditionFailed(err) {
		t.Fatal("mismatched field equals accepted")
	}
	if err := checkCond(store.IfFieldEquals("status", "OPEN"), nil, false); !fault.IsConditionFailed(err) {
		t.Fatal("field equals on absent item accepted")
	}
	if err := checkCond(nil, nil, false); err != nil {
		t.Fatalf("nil cond: %v", err)
	}
}
