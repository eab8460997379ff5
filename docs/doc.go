// Package docs provides generated OpenAPI documentation.
//
// swaggerfix API
//
//	@title			swaggerfix API
//	@version		1.0
//	@description	Validate, correct and generate OpenAPI/Swagger documents with LLM assistance.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/swaggerfix
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/swaggerfix/serve.go -o . --parseDependency --parseInternal
