package errors

import (
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func withExit(t *testing.T) *int {
	code := -1
	orig := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = orig })
	return &code
}

func TestCheckError(t *testing.T) {
	code := withExit(t)

	CheckError(nil, logr.Discard())
	assert.Equal(t, -1, *code)

	CheckError(errors.New("boom"), logr.Discard())
	assert.Equal(t, ErrorGeneric, *code)

	CheckErrorWithCode(errors.New("no bus"), ErrorConnectionFailure, logr.Discard())
	assert.Equal(t, ErrorConnectionFailure, *code)
}

func TestClassify(t *testing.T) {
	gr := schema.GroupResource{Group: "build.example.com", Resource: "buildrequests"}
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{"Nil", nil, ClassNone},
		{"Conflict", apierrors.NewConflict(gr, "hello", errors.New("stale")), ClassConflict},
		{"NotFound", apierrors.NewNotFound(gr, "hello"), ClassNotFound},
		{"Timeout", apierrors.NewServerTimeout(gr, "get", 1), ClassTransient},
		{"TooManyRequests", apierrors.NewTooManyRequests("slow down", 1), ClassTransient},
		{"Other", errors.New("boom"), ClassOther},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
