package lang

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"japanese", "こんにちは、世界！", "ja"},
		{"korean", "안녕하세요 세계", "ko"},
		{"chinese", "你好世界这是一条笔记", "zh"},
		{"russian", "Привет мир, это заметка", "ru"},
		{"greek", "Γειά σου κόσμε", "el"},
		{"arabic", "مرحبا بالعالم", "ar"},
		{"hebrew", "שלום עולם", "he"},
		{"thai", "สวัสดีชาวโลก", "th"},
		{"latin text unresolved", "hello world, just a note", ""},
		{"empty", "", ""},
		{"punctuation only", "!!! ??? ...", ""},
		{"mixed mostly latin", "gm nostr ☀️ 你好", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.content); got != tt.want {
				t.Errorf("Detect(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}
