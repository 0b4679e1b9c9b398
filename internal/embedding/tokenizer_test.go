package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("hello world", 10)
	if len(ids) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP 102 after two words, got %d", ids[3])
	}
	if attn[0] != 1 || attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention mask: %v", attn)
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP in last slot, got %d", ids[3])
	}
	for i, m := range attn {
		if m != 1 {
			t.Errorf("attention[%d]=%d", i, m)
		}
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  User LOGIN, with-password  ")
	want := []string{"user", "login", "with", "password"}
	if len(words) != len(want) {
		t.Fatalf("expected %v, got %v", want, words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d: got %q want %q", i, words[i], want[i])
		}
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
	if SplitWords(" ,; ") != nil {
		t.Error("punctuation only should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	long := ""
	for i := 0; i < 200; i++ {
		long += "z"
	}
	if HashString(long) < 0 {
		t.Error("hash should be non-negative")
	}
}
