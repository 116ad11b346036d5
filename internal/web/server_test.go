package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterRoutes(mux)

	tests := []struct {
		path        string
		wantStatus  int
		wantContent string
	}{
		{"/", http.StatusOK, "AI Todo Assistant"},
		{"/static/app.js", http.StatusOK, "/todos"},
		{"/static/app.css", http.StatusOK, ".todos"},
		{"/static/missing.js", http.StatusNotFound, ""},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("GET %s status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
			}
			body, _ := io.ReadAll(rec.Body)
			if tt.wantContent != "" && !strings.Contains(string(body), tt.wantContent) {
				t.Errorf("GET %s body does not contain %q", tt.path, tt.wantContent)
			}
		})
	}
}
