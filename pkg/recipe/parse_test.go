package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloRecipe = `name: hello
version: 2.12
sources:
  - url: file:///f/hello-2.12.tar.gz
    checksum: abc123
build: |
  ./configure --prefix=/usr
  make
install: make DESTDIR=$DESTDIR install
dependencies:
  build:
    - gcc
  runtime:
    - glibc
hooks:
  post-install:
    - ldconfig
prefix: /usr
custom_field: kept-verbatim
`

func TestParseHelloRecipe(t *testing.T) {
	r, err := Parse(helloRecipe)
	require.NoError(t, err)

	assert.Equal(t, "hello", r.Name)
	assert.Equal(t, "2.12", r.Version)
	require.Len(t, r.Sources, 1)
	assert.Equal(t, "file:///f/hello-2.12.tar.gz", r.Sources[0].URL)
	assert.Equal(t, "abc123", r.Sources[0].Checksum)
	assert.Equal(t, "./configure --prefix=/usr\nmake", r.Build)
	assert.Equal(t, "make DESTDIR=$DESTDIR install", r.Install)
	assert.Equal(t, []string{"gcc"}, r.Dependencies.Build)
	assert.Equal(t, []string{"glibc"}, r.Dependencies.Runtime)
	assert.Equal(t, []string{"ldconfig"}, r.Hooks["post-install"])
	assert.Equal(t, "/usr", r.Prefix)
	assert.Equal(t, "kept-verbatim", r.Meta["custom_field"])
}

func TestParseSingleSourceConvenienceFoldsIn(t *testing.T) {
	src := "name: x\nversion: 1.0\nsource: http://example.com/x-1.0.tar.gz\nsha256: deadbeef\n"
	r, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, r.Sources, 1)
	assert.Equal(t, "http://example.com/x-1.0.tar.gz", r.Sources[0].URL)
	assert.Equal(t, "deadbeef", r.Sources[0].Checksum)
}

func TestParseFoldedBlockScalar(t *testing.T) {
	src := "name: x\nversion: 1.0\ninstall: >\n  make\n  install\n"
	r, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, "make install", r.Install)
}

func TestParseMissingNameVersionDefaults(t *testing.T) {
	r, err := Parse("build: true\n")
	require.NoError(t, err)
	assert.Equal(t, "", r.Name)
	assert.Equal(t, "0.0.0", r.Version)
}

func TestParseMalformedLineReturnsParseError(t *testing.T) {
	_, err := Parse("name hello\n")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Line)
}

func TestParseUnknownTopLevelKeyPreserved(t *testing.T) {
	r, err := Parse("name: x\nversion: 1.0\nmaintainer: jane\n")
	require.NoError(t, err)
	assert.Equal(t, "jane", r.Meta["maintainer"])
}
