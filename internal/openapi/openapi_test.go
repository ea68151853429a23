package openapi

import (
	"encoding/json"
	"testing"
)

func TestBuildDocument(t *testing.T) {
	doc := BuildDocument()

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("version = %q, want 3.1.0", doc.OpenAPI)
	}

	for _, path := range []string{"/verify", "/keys", "/keys/{id}", "/keys/{id}/toggle", "/session"} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("document missing path %s", path)
		}
	}

	verify := doc.Paths.Find("/verify")
	if verify.Get == nil {
		t.Fatal("/verify missing GET operation")
	}
	for _, status := range []string{"200", "401", "403"} {
		if verify.Get.Responses.Value(status) == nil {
			t.Errorf("/verify missing %s response", status)
		}
	}

	// The document must serialize cleanly; it is served verbatim.
	if _, err := json.Marshal(doc); err != nil {
		t.Fatalf("marshal document: %v", err)
	}
}
