package docs_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"

	"github.com/jhoicas/nfse-api/docs"
)

func TestReadDoc_JSONValidoConRutas(t *testing.T) {
	raw, err := swag.ReadDoc()
	require.NoError(t, err)

	var doc struct {
		Swagger string `json:"swagger"`
		Info    struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
		BasePath string                    `json:"basePath"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc), "la plantilla debe producir JSON válido")

	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, docs.SwaggerInfo.Title, doc.Info.Title)
	assert.Equal(t, docs.SwaggerInfo.Version, doc.Info.Version)
	assert.Equal(t, "/", doc.BasePath)
	for _, p := range []string{"/health", "/nfse", "/nfse/{id}", "/nfse/{id}/pdf", "/nfse/credentials"} {
		assert.Contains(t, doc.Paths, p)
	}
}
