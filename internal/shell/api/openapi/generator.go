// Package openapi generates the OpenAPI 3.0 document of the topoplan API by
// reflecting on the JSON:API models.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces an OpenAPI document from registered resources and
// actions. The document is built once and cached until the next
// registration.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	resources   []ResourceInfo
	actions     []Action
	mu          sync.RWMutex
	cached      *openapi3.T
}

// ResourceInfo describes a JSON:API resource collection.
type ResourceInfo struct {
	Name            string // resource type name, e.g. "plans"
	Model           any    // attributes struct
	CreateMediaType string // request body type of POST, empty means JSON:API
	SupportsFind    bool   // GET /{type} and GET /{type}/{id}
	SupportsCreate  bool   // POST /{type}
	SupportsDelete  bool   // DELETE /{type}/{id}
}

// Action is an endpoint outside the resource CRUD set.
type Action struct {
	Method     string // http.MethodGet, ...
	Path       string // e.g. "/api/v1/plans/{id}/commands/{phase}"
	Summary    string
	Tag        string
	MediaType  string // response media type
	Responses  map[int]string
	PathParams []string
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// NewGenerator creates an OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:   "Topoplan API",
		version: "1.0.0",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterResource adds a resource collection.
func (g *Generator) RegisterResource(info ResourceInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = append(g.resources, info)
	g.cached = nil
}

// RegisterAction adds a custom endpoint.
func (g *Generator) RegisterAction(a Action) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, a)
	g.cached = nil
}

// Generate returns the OpenAPI document.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if api := g.cached; api != nil {
		g.mu.RUnlock()
		return api
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached != nil {
		return g.cached
	}

	api := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}
	for _, url := range g.servers {
		api.Servers = append(api.Servers, &openapi3.Server{URL: url})
	}

	addCommonSchemas(api)
	for _, res := range g.resources {
		addResource(api, res)
	}
	for _, a := range g.actions {
		addAction(api, a)
	}

	g.cached = api
	return api
}

// Handler serves the document as JSON.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.Generate()); err != nil {
			http.Error(w, "failed to encode OpenAPI document", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Schema Generation
// =============================================================================

func typeSchema(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{name}}}
}

func ref(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
}

// addCommonSchemas adds the JSON:API error and pagination schemas.
func addCommonSchemas(api *openapi3.T) {
	api.Components.Schemas["PaginationMeta"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"total":  typeSchema("integer"),
				"limit":  typeSchema("integer"),
				"offset": typeSchema("integer"),
			},
		},
	}

	api.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"errors": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{
							Value: &openapi3.Schema{
								Type: &openapi3.Types{"object"},
								Properties: openapi3.Schemas{
									"status": typeSchema("string"),
									"title":  typeSchema("string"),
									"detail": typeSchema("string"),
									"source": typeSchema("object"),
								},
							},
						},
					},
				},
			},
		},
	}
}

// addResource adds the schemas and paths of one resource collection.
func addResource(api *openapi3.T, res ResourceInfo) {
	basePath := "/api/v1/" + res.Name
	schemaName := capitalize(singularize(res.Name))

	api.Components.Schemas[schemaName+"Attributes"] = extractSchema(reflect.TypeOf(res.Model))
	api.Components.Schemas[schemaName] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"type": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []any{res.Name}},
				},
				"id":         typeSchema("string"),
				"attributes": ref(schemaName + "Attributes"),
			},
			Required: []string{"type", "id"},
		},
	}
	api.Components.Schemas[schemaName+"Response"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: openapi3.Schemas{"data": ref(schemaName)},
		},
	}
	api.Components.Schemas[schemaName+"ListResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"data": &openapi3.SchemaRef{
					Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: ref(schemaName)},
				},
				"meta": ref("PaginationMeta"),
			},
		},
	}

	tag := capitalize(res.Name)
	collection := &openapi3.PathItem{}
	if res.SupportsFind {
		collection.Get = &openapi3.Operation{
			OperationID: "list" + capitalize(res.Name),
			Summary:     "List " + res.Name,
			Tags:        []string{tag},
			Parameters: openapi3.Parameters{
				queryParam("page[size]", "integer"),
				queryParam("page[offset]", "integer"),
				queryParam("filter[partition]", "string"),
			},
			Responses: responses(map[int]*openapi3.ResponseRef{
				http.StatusOK: jsonAPIResponse("Resource page", schemaName+"ListResponse"),
			}),
		}
	}
	if res.SupportsCreate {
		mediaType := res.CreateMediaType
		body := &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
		if mediaType == "" {
			mediaType = "application/vnd.api+json"
			body = ref(schemaName + "Response")
		}
		collection.Post = &openapi3.Operation{
			OperationID: "create" + schemaName,
			Summary:     "Create a " + singularize(res.Name),
			Tags:        []string{tag},
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.Content{mediaType: &openapi3.MediaType{Schema: body}},
				},
			},
			Responses: responses(map[int]*openapi3.ResponseRef{
				http.StatusCreated:             jsonAPIResponse("Created", schemaName+"Response"),
				http.StatusBadRequest:          errorResponse("Malformed input"),
				http.StatusUnprocessableEntity: errorResponse("Input cannot be processed"),
			}),
		}
	}
	api.Paths.Set(basePath, collection)

	item := &openapi3.PathItem{Parameters: openapi3.Parameters{pathParam("id")}}
	if res.SupportsFind {
		item.Get = &openapi3.Operation{
			OperationID: "get" + schemaName,
			Summary:     "Get a " + singularize(res.Name),
			Tags:        []string{tag},
			Responses: responses(map[int]*openapi3.ResponseRef{
				http.StatusOK:       jsonAPIResponse("Resource", schemaName+"Response"),
				http.StatusNotFound: errorResponse("Not found"),
			}),
		}
	}
	if res.SupportsDelete {
		item.Delete = &openapi3.Operation{
			OperationID: "delete" + schemaName,
			Summary:     "Delete a " + singularize(res.Name),
			Tags:        []string{tag},
			Responses: responses(map[int]*openapi3.ResponseRef{
				http.StatusNoContent: {Value: openapi3.NewResponse().WithDescription("Deleted")},
				http.StatusNotFound:  errorResponse("Not found"),
			}),
		}
	}
	api.Paths.Set(basePath+"/{id}", item)
}

// addAction adds one custom endpoint.
func addAction(api *openapi3.T, a Action) {
	item := api.Paths.Value(a.Path)
	if item == nil {
		item = &openapi3.PathItem{}
		for _, p := range a.PathParams {
			item.Parameters = append(item.Parameters, pathParam(p))
		}
		api.Paths.Set(a.Path, item)
	}

	mediaType := a.MediaType
	if mediaType == "" {
		mediaType = "application/json"
	}
	codes := make(map[int]*openapi3.ResponseRef, len(a.Responses))
	for code, desc := range a.Responses {
		resp := openapi3.NewResponse().WithDescription(desc)
		if code < 300 {
			resp = resp.WithContent(openapi3.Content{mediaType: &openapi3.MediaType{Schema: typeSchema("object")}})
		} else {
			resp = resp.WithJSONSchemaRef(ref("Error"))
		}
		codes[code] = &openapi3.ResponseRef{Value: resp}
	}

	op := &openapi3.Operation{
		OperationID: operationID(a.Method, a.Path),
		Summary:     a.Summary,
		Tags:        []string{a.Tag},
		Responses:   responses(codes),
	}
	item.SetOperation(a.Method, op)
}

// extractSchema builds an object schema from the exported, JSON-visible
// fields of a struct type.
func extractSchema(t reflect.Type) *openapi3.SchemaRef {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := field.Name
		if n, _, _ := strings.Cut(tag, ","); n != "" {
			name = n
		}
		schema.Properties[name] = goTypeToSchema(field.Type)
	}
	return &openapi3.SchemaRef{Value: schema}
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	rawMessageType = reflect.TypeOf(json.RawMessage{})
	marshalerType  = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// goTypeToSchema converts a Go type to an OpenAPI schema.
func goTypeToSchema(t reflect.Type) *openapi3.SchemaRef {
	switch {
	case t == timeType:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
	case t == rawMessageType:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{}}
	}

	switch t.Kind() {
	case reflect.String:
		return typeSchema("string")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}
	case reflect.Int64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return typeSchema("integer")
	case reflect.Float32, reflect.Float64:
		return typeSchema("number")
	case reflect.Bool:
		return typeSchema("boolean")
	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: goTypeToSchema(t.Elem())}}
	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: goTypeToSchema(t.Elem())},
		}}
	case reflect.Ptr:
		schema := goTypeToSchema(t.Elem())
		schema.Value.Nullable = true
		return schema
	case reflect.Struct:
		// Types with their own encoding have no reflectable shape.
		if t.Implements(marshalerType) || reflect.PointerTo(t).Implements(marshalerType) {
			return &openapi3.SchemaRef{Value: &openapi3.Schema{}}
		}
		return extractSchema(t)
	default:
		return typeSchema("object")
	}
}

// =============================================================================
// Helpers
// =============================================================================

func responses(codes map[int]*openapi3.ResponseRef) *openapi3.Responses {
	out := openapi3.NewResponses()
	for code, r := range codes {
		out.Set(strconv.Itoa(code), r)
	}
	return out
}

func jsonAPIResponse(desc, schema string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().
		WithDescription(desc).
		WithContent(openapi3.Content{"application/vnd.api+json": &openapi3.MediaType{Schema: ref(schema)}})}
}

func errorResponse(desc string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().
		WithDescription(desc).
		WithContent(openapi3.Content{"application/vnd.api+json": &openapi3.MediaType{Schema: ref("Error")}})}
}

func pathParam(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:     name,
		In:       "path",
		Required: true,
		Schema:   typeSchema("string"),
	}}
}

func queryParam(name, typ string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:   name,
		In:     "query",
		Schema: typeSchema(typ),
	}}
}

// operationID derives "getPlansCommands" style IDs from a method and path.
func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "api" || part == "v1" || strings.HasPrefix(part, "{") {
			continue
		}
		b.WriteString(capitalize(part))
	}
	return b.String()
}

// capitalize returns the string with the first letter capitalized.
func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// singularize performs basic singularization (removes trailing 's').
func singularize(s string) string {
	if strings.HasSuffix(s, "ies") {
		return s[:len(s)-3] + "y"
	}
	if strings.HasSuffix(s, "s") {
		return s[:len(s)-1]
	}
	return s
}
