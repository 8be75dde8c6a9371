package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain paragraph", "hello world", "<p>hello world</p>"},
		{"markdown emphasis", "a **bold** and *soft* word", "<p>a <b>bold</b> and <i>soft</i> word</p>"},
		{"allowed tags kept", "use <b>this</b> now", "use <b>this</b> now"},
		{"script dropped", "<p>hi</p><script>alert(1)</script>", "<p>hi</p>"},
		{"attributes stripped", `<p class="x" onclick="y">hi</p>`, "<p>hi</p>"},
		{"strong normalized", "<strong>x</strong>", "<b>x</b>"},
		{"unknown tags unwrapped", "<div><span>inner</span></div>", "inner"},
		{"blank", "   \n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModelOutput(tt.in))
		})
	}
}

func TestModelOutputIdempotent(t *testing.T) {
	inputs := []string{
		"hello world",
		"first paragraph\n\nsecond **one**",
		"<p>x <b>y</b></p><br><i>z</i>",
		"a & b < c",
		"line one\nline two",
	}
	for _, in := range inputs {
		once := ModelOutput(in)
		assert.Equal(t, once, ModelOutput(once), "input %q", in)

		simple := Simple(in)
		assert.Equal(t, simple, Simple(simple), "input %q", in)
	}
}

func TestSimpleHardWraps(t *testing.T) {
	out := Simple("one\ntwo")
	assert.Regexp(t, `^<p>one<br/?>\s*two</p>$`, out)
	assert.Equal(t, "<p>one two</p>", strings.Replace(ModelOutput("one\ntwo"), "\n", " ", 1))
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;&amp;&#34;&#39;", EscapeHTML(`<b>&"'`))
}
