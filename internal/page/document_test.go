package page

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `<!doctype html>
<html>
<head>
  <title> Daily Prices </title>
  <style>body { color: red; }</style>
  <script>var hidden = "not visible";</script>
</head>
<body>
  <h1>Daily   Prices</h1>
  <p id="lead">Bread costs <b>2.10</b> today.</p>
  <noscript>Enable JavaScript</noscript>
  <script>document.write("also hidden")</script>
  <ul>
    <li>Milk</li>
    <li>Eggs</li>
  </ul>
</body>
</html>`

func TestParseAndText(t *testing.T) {
	t.Parallel()

	doc, err := Parse(fixture)
	require.NoError(t, err)

	assert.Equal(t, "Daily Prices Bread costs 2.10 today. Milk Eggs", doc.Text())
	assert.Equal(t, "Daily Prices", doc.Title())
	assert.Equal(t, fixture, doc.HTML())
	assert.Equal(t, "Bread costs 2.10 today.", doc.Find("#lead").Text())
}

func TestTextDoesNotMutateDocument(t *testing.T) {
	t.Parallel()

	doc, err := Parse(fixture)
	require.NoError(t, err)

	_ = doc.Text()
	assert.Equal(t, 2, doc.Find("body script, head script").Length())
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	doc, err := Parse("<html><body><p>" + strings.Repeat("é", 80) + "</p></body></html>")
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("é", 60), doc.Excerpt(60))
	assert.Equal(t, "", doc.Excerpt(0))
	assert.Equal(t, strings.Repeat("é", 80), doc.Excerpt(500))
}

func TestParseFragmentWithoutBody(t *testing.T) {
	t.Parallel()

	doc, err := Parse("plain text only")
	require.NoError(t, err)
	assert.Equal(t, "plain text only", doc.Text())
	assert.Equal(t, "", doc.Title())
}
