package gcp

import (
	"errors"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentworkflow/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("DOCFLOW_TEST_VALUE", "set")

	assert.Equal(t, "set", GetEnv("DOCFLOW_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("DOCFLOW_TEST_UNSET", "fallback"))
}

func TestMapStorageError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"object missing", storage.ErrObjectNotExist, true},
		{"bucket missing", storage.ErrBucketNotExist, true},
		{"api 404", &googleapi.Error{Code: http.StatusNotFound}, true},
		{"precondition", &googleapi.Error{Code: http.StatusPreconditionFailed}, false},
		{"transport", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, errors.Is(mapStorageError(tt.err), objectstore.ErrNotFound))
		})
	}
}
