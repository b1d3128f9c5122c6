package annotations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nullguard/internal/ir"
)

const sampleXML = `<assembly name="ThirdParty">
  <member name="M:ThirdParty.IRepository.Find(System.String)">
    <attribute ctor="M:JetBrains.Annotations.NotNullAttribute.#ctor"/>
    <parameter name="key">
      <attribute ctor="M:JetBrains.Annotations.CanBeNullAttribute.#ctor"/>
    </parameter>
  </member>
  <member name="P:ThirdParty.IRepository.Name">
    <attribute ctor="M:JetBrains.Annotations.NotNullAttribute.#ctor(System.String)"/>
  </member>
</assembly>`

func TestParse(t *testing.T) {
	idx, err := Parse(strings.NewReader(sampleXML))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	find := idx.Lookup("M:ThirdParty.IRepository.Find(System.String)")
	require.NotNil(t, find)
	assert.Equal(t, []ir.CustomAttribute{{Type: "JetBrains.Annotations.NotNullAttribute"}}, find.Attributes)
	assert.Equal(t, []ir.CustomAttribute{{Type: "JetBrains.Annotations.CanBeNullAttribute"}}, find.Params["key"])

	name := idx.Lookup("P:ThirdParty.IRepository.Name")
	require.NotNil(t, name)
	assert.Equal(t, "JetBrains.Annotations.NotNullAttribute", name.Attributes[0].Type)

	assert.Nil(t, idx.Lookup("M:Missing"))
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse(strings.NewReader(`<assembly><member>`))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(`<assembly><member/></assembly>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member without name")
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "bin/Lib.ExternalAnnotations.xml", SidecarPath("bin/Lib.dll"))
	assert.Equal(t, "Lib.ExternalAnnotations.xml", SidecarPath("Lib"))
}

func TestCacheMissingFileIsEmpty(t *testing.T) {
	asm := &ir.Assembly{Name: "Lib", Path: filepath.Join(t.TempDir(), "Lib.dll")}
	c := NewCache()

	require.NoError(t, c.Load(asm))
	idx := c.For(asm)
	require.NotNil(t, idx)
	assert.Equal(t, 0, idx.Len())
}

func TestCacheLoadsSidecarOnce(t *testing.T) {
	dir := t.TempDir()
	asm := &ir.Assembly{Name: "ThirdParty", Path: filepath.Join(dir, "ThirdParty.dll")}
	require.NoError(t, os.WriteFile(SidecarPath(asm.Path), []byte(sampleXML), 0o644))

	c := NewCache()
	require.NoError(t, c.Load(asm))
	first := c.For(asm)
	require.NoError(t, os.Remove(SidecarPath(asm.Path)))
	require.NoError(t, c.Load(asm))

	assert.Same(t, first, c.For(asm), "second load must hit the cache")
	assert.Equal(t, 2, first.Len())
}

func TestCacheSeparatesSameNamedAssemblies(t *testing.T) {
	a := &ir.Assembly{Name: "Lib", Path: "a/Lib.dll"}
	b := &ir.Assembly{Name: "Lib", Path: "b/Lib.dll"}
	c := NewCache()
	idx := NewIndex()
	idx.Add("T:X", "", ir.CustomAttribute{Type: "Y"})
	c.Put(a, idx)

	assert.Same(t, idx, c.For(a))
	assert.Nil(t, c.For(b))
}

func TestCacheBadFile(t *testing.T) {
	dir := t.TempDir()
	asm := &ir.Assembly{Name: "Bad", Path: filepath.Join(dir, "Bad.dll")}
	require.NoError(t, os.WriteFile(SidecarPath(asm.Path), []byte("<assembly>"), 0o644))

	err := NewCache().Load(asm)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad.ExternalAnnotations.xml")
}
