package textproc

import (
	"reflect"
	"testing"
)

func TestCountWords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", "   \n\t ", 0},
		{"simple", "I think remote work is great", 6},
		{"punctuation not counted", "Well, yes! (Really?) \"Sure.\"", 4},
		{"extra whitespace", "  hello    world  ", 2},
		{"lone punctuation", "... !!! ???", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountWords(tt.text); got != tt.want {
				t.Errorf("CountWords(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCountSentences(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single", "I like coffee.", 1},
		{"multiple", "I like coffee. Do you? Me too!", 3},
		{"run of terminals", "Wait... what?!", 2},
		{"no terminal", "trailing sentence without a period", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountSentences(tt.text); got != tt.want {
				t.Errorf("CountSentences(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()
	got := SplitSentences("I like coffee. Do you?  Me too!")
	want := []string{"I like coffee", "Do you", "Me too"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitSentences = %v, want %v", got, want)
	}
}
