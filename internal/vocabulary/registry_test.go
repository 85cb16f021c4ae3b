package vocabulary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/diagrammer/pkg/schema"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Kind{Name: "Redis", Category: "cache"}))

	k, err := r.Get("Redis")
	require.NoError(t, err)
	assert.Equal(t, "cache", k.Category)
	assert.Equal(t, ShapeBox, k.Shape, "shape defaults to box")
	assert.True(t, r.Has("Redis"))
	assert.False(t, r.Has("redis"), "lookup is exact")
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Kind{Name: "  "})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	require.NoError(t, r.Register(Kind{Name: "EC2"}))
	err = r.Register(Kind{Name: "EC2"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	_, err = r.Get("missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestRegistry_DefaultNamesSorted(t *testing.T) {
	r := NewDefault()
	names := r.Names()
	assert.Equal(t, len(Builtin()), len(names))
	assert.IsIncreasing(t, names)
	for _, want := range []string{"EC2", "RDS", "LoadBalancer", "SQS", "Lambda", "S3", "Compute", "Database"} {
		assert.Contains(t, names, want)
	}
}

func TestRegistry_Suggest(t *testing.T) {
	r := NewDefault()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"ec2", "EC2", true},
		{"postgres", "RDS", true},
		{"ApplicationLoadBalancer", "LoadBalancer", true},
		{"Lamda", "Lambda", true},
		{"Databse", "Database", true},
		{"mongodb", "Database", true},
		{"zzzzzzzzzzzz", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := r.Suggest(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("lamda", "lambda"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

const sampleVocabulary = `
kind "Redis" {
  category    = "cache"
  shape       = shape.cylinder
  description = "In-memory cache"
  aliases     = ["elasticache", "memcached"]
}

kind "CDN" {
  category = "network"
}
`

func TestParse_HCL(t *testing.T) {
	kinds, err := Parse("vocab.hcl", []byte(sampleVocabulary))
	require.NoError(t, err)
	require.Len(t, kinds, 2)

	assert.Equal(t, "Redis", kinds[0].Name)
	assert.Equal(t, ShapeCylinder, kinds[0].Shape)
	assert.Equal(t, []string{"elasticache", "memcached"}, kinds[0].Aliases)
	assert.Equal(t, "CDN", kinds[1].Name)
	assert.Empty(t, kinds[1].Shape)
}

func TestParse_HCLError(t *testing.T) {
	_, err := Parse("vocab.hcl", []byte(`kind "X" { shape = shape.hexagonal }`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRegistry_LoadFileExtendsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleVocabulary), 0o644))

	r := NewDefault()
	n, err := r.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, r.Has("Redis"))

	got, ok := r.Suggest("memcached")
	assert.True(t, ok)
	assert.Equal(t, "Redis", got)
}

func TestEncode_RoundTrip(t *testing.T) {
	src := Encode(Builtin())
	kinds, err := Parse("builtin.hcl", src)
	require.NoError(t, err)
	assert.Equal(t, Builtin(), kinds)
}
