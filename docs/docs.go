// Package docs documento OpenAPI servido en /docs.
// La plantilla vive en swagger.json; SwaggerInfo rellena título, versión y host.
package docs

import (
	_ "embed"

	"github.com/swaggo/swag"
)

//go:embed swagger.json
var docTemplate string

// SwaggerInfo datos exportados para que main ajuste host o basePath.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "NFS-e API",
	Description:      "Emisión de NFS-e contra el Sistema Nacional (leiaute DPS 1.00).",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
