// Package testutil provides shared rapid generators for note content.
// Generators lean toward the inputs that break trimming and SQL binding.
package testutil

import (
	"strings"

	"pgregory.net/rapid"
)

// Whitespace generates strings made only of whitespace (including the empty string).
func Whitespace() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.Just(""),
		rapid.Just("   "),
		rapid.Just("\t\n\r "),
		rapid.Just("\u00a0\u2003"), // NBSP + EM SPACE are unicode.IsSpace
		rapid.StringMatching(`[ \t\n\r]{1,20}`),
	)
}

// Content generates non-blank note content, optionally padded with whitespace.
// The trimmed value is never empty.
func Content() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		core := rapid.OneOf(
			rapid.StringMatching(`[A-Za-z0-9][A-Za-z0-9 .,!?]{0,200}`),
			rapid.SampledFrom([]string{
				"'; DROP TABLE notes; --",
				"\" OR 1=1 --",
				"Robert'); DELETE FROM shares;--",
				"你好，世界",
				"مرحبا بالعالم",
				"🎉 party 🥳",
				"# Heading\n\n- item one\n- item two",
				"<script>alert(1)</script>",
			}),
			rapid.Map(rapid.StringMatching(`[a-z]{1,10}`), func(s string) string {
				return strings.Repeat(s+" ", 500)
			}),
		).Draw(t, "core")
		left := rapid.SampledFrom([]string{"", " ", "  ", "\n", "\t "}).Draw(t, "left")
		right := rapid.SampledFrom([]string{"", " ", "  ", "\n", " \t"}).Draw(t, "right")
		return left + core + right
	})
}
