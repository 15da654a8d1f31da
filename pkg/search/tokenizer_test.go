package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "main ts", Normalize("Main.ts"))
	assert.Equal(t, "hello world", Normalize("  Hello,   WORLD!  "))
	assert.Equal(t, "don't", Normalize("Don’t"))
	assert.Equal(t, "", Normalize("!!! ---"))
}

func TestTokenizeFiltersStopWords(t *testing.T) {
	tokens := Tokenize("the Main entry of the App")
	assert.Equal(t, []string{"main", "entry", "app"}, tokens)
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("the of and"))
}

func TestFieldsFromDocument(t *testing.T) {
	fields := FieldsFromDocument(map[string]any{
		"path":    "src/main.ts",
		"lines":   float64(120),
		"exports": []any{"bootstrap", "main"},
		"meta":    map[string]any{"lang": "typescript", "strict": true},
		"empty":   "",
	})

	assert.Equal(t, map[string]string{
		"data.path":    "src/main.ts",
		"data.exports": "bootstrap main",
		"data.meta":    "typescript",
	}, fields)
}

func TestFieldsFromDocumentNoStrings(t *testing.T) {
	assert.Nil(t, FieldsFromDocument(nil))
	assert.Nil(t, FieldsFromDocument(map[string]any{"n": float64(1)}))
}

func TestDocFromFieldsIndexesName(t *testing.T) {
	d := DocFromFields("ent-1", "main.ts", map[string]string{"data.path": "src/main.ts"}, 42)
	assert.Equal(t, "ent-1", d.ID)
	assert.Equal(t, "main.ts", d.Fields["name"])
	assert.Equal(t, "src/main.ts", d.Fields["data.path"])
	assert.Equal(t, int64(42), d.UpdatedAt)
}
