package orchestrator

import "testing"

func TestExtractCodeBlocks(t *testing.T) {
	msg := "Here is the script:\n```python\nprint(42)\n```\nand a helper:\n``` sh\nls -la\n```"
	blocks := ExtractCodeBlocks(msg)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Lang != "python" || blocks[0].Code != "print(42)\n" {
		t.Errorf("unexpected first block: %+v", blocks[0])
	}
	if blocks[1].Lang != "sh" {
		t.Errorf("second block lang = %q, want sh", blocks[1].Lang)
	}
}

func TestExtractCodeBlocks_NoFences(t *testing.T) {
	if blocks := ExtractCodeBlocks("plain text, no code here"); len(blocks) != 0 {
		t.Errorf("got %d blocks, want 0", len(blocks))
	}
}

func TestHasExecutableCode(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want bool
	}{
		{"python block", "```python\nprint(1)\n```", true},
		{"sh block", "```sh\necho hi\n```", true},
		{"uppercase tag", "```Python\nprint(1)\n```", true},
		{"json block", "```json\n{}\n```", false},
		{"untagged block", "```\nwhatever\n```", false},
		{"no block", "run this: print(1)", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hasExecutableCode(tc.msg); got != tc.want {
				t.Errorf("hasExecutableCode = %v, want %v", got, tc.want)
			}
		})
	}
}
