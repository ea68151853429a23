// Package openapi builds the OpenAPI 3.1 document served at /openapi.json.
// The document is static: the API surface does not vary per deployment.
package openapi

import (
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// BuildDocument constructs the OpenAPI description of the verification and
// key management endpoints.
func BuildDocument() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Voight-Kampff API",
			Description: "Forward-auth verification and API key management.",
			Version:     "1.0.0",
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:   "http",
			Scheme: "bearer",
		},
	}
	doc.Components.SecuritySchemes["sessionCookie"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "cookie",
			Name: "vk_session",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"detail": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		},
	}
	doc.Components.Schemas["APIKey"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":         &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
				"key_name":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"user":       &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"scopes":     &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}}},
				"is_admin":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"is_active":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"created_at": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
				"last_used":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Format: "date-time"}},
				"expires_at": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}, Format: "date-time"}},
			},
		},
	}
	doc.Components.Schemas["CreateKeyRequest"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"key_name", "user", "scopes"},
			Properties: openapi3.Schemas{
				"key_name":        &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"user":            &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"scopes":          &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}}},
				"expires_in_days": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer", "null"}}},
				"is_admin":        &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
			},
		},
	}

	doc.Paths = openapi3.NewPaths()
	doc.Paths.Set("/verify", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "verify",
			Summary:     "Verify a forwarded request's credential",
			Description: "Called by the reverse proxy once per inbound request. 2xx allows the request through; 401 and 403 deny it.",
			Responses:   verifyResponses(),
		},
	})
	doc.Paths.Set("/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listKeys",
			Summary:     "List API keys",
			Responses:   jsonResponses(200, "APIKey list; never includes secrets or hashes"),
		},
		Post: &openapi3.Operation{
			OperationID: "createKey",
			Summary:     "Create an API key",
			Description: "The plaintext key appears once, in this response's api_key field.",
			RequestBody: &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().WithJSONSchemaRef(refSchema("CreateKeyRequest")),
			},
			Responses: jsonResponses(201, "Created key with one-time plaintext"),
		},
	})
	doc.Paths.Set("/keys/{id}", &openapi3.PathItem{
		Delete: &openapi3.Operation{
			OperationID: "deleteKey",
			Summary:     "Delete an API key",
			Parameters:  idParam(),
			Responses:   statusResponses(204, "Key deleted"),
		},
	})
	doc.Paths.Set("/keys/{id}/toggle", &openapi3.PathItem{
		Patch: &openapi3.Operation{
			OperationID: "toggleKey",
			Summary:     "Flip a key's active flag",
			Parameters:  idParam(),
			Responses:   jsonResponses(200, "Updated key"),
		},
	})
	doc.Paths.Set("/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "login",
			Summary:     "Log in and receive a session cookie",
			Responses:   jsonResponses(200, "Session cookie set"),
		},
		Delete: &openapi3.Operation{
			OperationID: "logout",
			Summary:     "Revoke the current session",
			Responses:   statusResponses(204, "Session revoked"),
		},
	})

	return doc
}

func refSchema(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
}

func idParam() openapi3.Parameters {
	return openapi3.Parameters{
		{
			Value: &openapi3.Parameter{
				Name:     "id",
				In:       "path",
				Required: true,
				Schema:   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
			},
		},
	}
}

func verifyResponses() *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set("200", jsonResponse("Credential valid and in scope"))
	responses.Set("401", errorResponse("No credential, or the credential is unknown, inactive, or expired"))
	responses.Set("403", errorResponse("Credential valid but out of scope, admin required, or the store is unavailable"))
	return responses
}

func jsonResponses(status int, description string) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set(statusKey(status), jsonResponse(description))
	responses.Set("default", errorResponse("Error"))
	return responses
}

func statusResponses(status int, description string) *openapi3.Responses {
	desc := description
	responses := openapi3.NewResponses()
	responses.Set(statusKey(status), &openapi3.ResponseRef{
		Value: &openapi3.Response{Description: &desc},
	})
	responses.Set("default", errorResponse("Error"))
	return responses
}

func jsonResponse(description string) *openapi3.ResponseRef {
	desc := description
	return &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchema(&openapi3.Schema{Type: &openapi3.Types{"object"}}),
		},
	}
}

func errorResponse(description string) *openapi3.ResponseRef {
	desc := description
	return &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content: openapi3.Content{
				"application/json": openapi3.NewMediaType().WithSchemaRef(refSchema("ErrorResponse")),
			},
		},
	}
}

func statusKey(status int) string {
	return strconv.Itoa(status)
}
