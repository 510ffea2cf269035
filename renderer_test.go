package captionfeed

import (
	"html/template"
	"strconv"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestRenderCaption(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		given    string
		expected template.HTML
	}{
		{
			given:    "a plain caption",
			expected: "<p>a plain caption</p>\n",
		},
		{
			given:    "# a big title\n some text",
			expected: "<h6>a big title</h6>\n<p>some text</p>\n",
		},
		{
			given:    "### a big title\n some text",
			expected: "<h6>a big title</h6>\n<p>some text</p>\n",
		},
		{
			given:    "see https://example.com for more",
			expected: "<p>see <a href=\"https://example.com\">https://example.com</a> for more</p>\n",
		},
	}

	for i, test := range tests {
		c.Run("RenderOK_case_"+strconv.Itoa(i), func(c *qt.C) {
			c.Assert(renderCaption(test.given), qt.DeepEquals, test.expected)
		})
	}
}
