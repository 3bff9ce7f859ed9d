package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const validManifest = `
apiVersion: v1
kind: Namespace
metadata:
  name: team-a
---
# rendered by the build
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  replicas: 2
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: config
  namespace: team-a
data:
  key: value
---
null
`

func TestParseManifest(t *testing.T) {
	objs, failures := ParseManifest([]byte(validManifest), "apps")

	require.Empty(t, failures)
	assert.Equal(t, []string{"Namespace/team-a", "Deployment/web", "ConfigMap/config"}, kinds(objs))
	assert.Equal(t, "apps", objs[1].GetNamespace())
	assert.Equal(t, "team-a", objs[2].GetNamespace())
	replicas, found, err := unstructured.NestedInt64(objs[1].Object, "spec", "replicas")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), replicas)
}

func TestParseManifestInvalidDocuments(t *testing.T) {
	manifest := `
apiVersion: v1
kind: ConfigMap
metadata:
  namespace: team-a
---
metadata:
  name: no-kind
---
kind: Secret
metadata:
  name: no-version
---
apiVersion: v1
kind: Service
metadata:
  name: web
`
	objs, failures := ParseManifest([]byte(manifest), "default")

	assert.Equal(t, []string{"Service/web"}, kinds(objs))
	require.Len(t, failures, 3)
	assert.Equal(t, "ConfigMap", failures[0].Resource())
	assert.EqualError(t, failures[0].Err, "missing metadata.name")
	assert.Equal(t, 0, failures[0].Index)
	assert.Equal(t, "document 1", failures[1].Resource())
	assert.Equal(t, "Secret/no-version", failures[2].Resource())
	assert.EqualError(t, failures[2].Err, "missing apiVersion")
}

func TestParseManifestEmpty(t *testing.T) {
	objs, failures := ParseManifest([]byte("---\n---\n"), "default")
	assert.Empty(t, objs)
	assert.Empty(t, failures)
}
