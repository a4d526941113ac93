package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("а", 3000))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("б", 2000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("в", 500))

	parts := SplitMessage(builder.String())
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > messageLimit {
			t.Fatalf("часть %d превышает лимит: %d", i, length)
		}
	}
	if parts[0] != strings.Repeat("а", 3000) {
		t.Fatal("первая часть должна заканчиваться на границе строки")
	}
	if !strings.HasSuffix(parts[1], strings.Repeat("в", 500)) {
		t.Fatal("вторая часть должна содержать хвост текста")
	}
}

func TestSplitMessageShortText(t *testing.T) {
	parts := SplitMessage("здравствуйте")
	if len(parts) != 1 || parts[0] != "здравствуйте" {
		t.Fatalf("короткий текст не разбивается, получили %v", parts)
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := SplitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("пустой текст не даёт частей, получили %d", len(parts))
	}
}
