// Package annotations loads external nullability annotations.
//
// An external annotation file sits next to an assembly and declares
// attributes for members the weaver cannot annotate in source, typically
// third-party base classes and interfaces:
//
//	<assembly name="ThirdParty">
//	  <member name="M:ThirdParty.IRepository.Find(System.String)">
//	    <attribute ctor="M:JetBrains.Annotations.NotNullAttribute.#ctor"/>
//	    <parameter name="key">
//	      <attribute ctor="M:JetBrains.Annotations.NotNullAttribute.#ctor"/>
//	    </parameter>
//	  </member>
//	</assembly>
//
// The file name is the assembly path with its extension replaced by
// ".ExternalAnnotations.xml". A missing file is not an error.
package annotations

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/nullguard/internal/ir"
)

// SidecarSuffix replaces the assembly file extension.
const SidecarSuffix = ".ExternalAnnotations.xml"

// Entry holds the annotations of one member.
type Entry struct {
	Attributes []ir.CustomAttribute
	Params     map[string][]ir.CustomAttribute
}

// Index maps member keys to annotation entries.
type Index struct {
	entries map[string]*Entry
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entries: map[string]*Entry{}}
}

// Lookup returns the entry for a member key, or nil.
func (idx *Index) Lookup(key string) *Entry {
	if idx == nil {
		return nil
	}
	return idx.entries[norm.NFC.String(key)]
}

// Len returns the number of annotated members.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Add merges attributes for a member (and optionally one of its parameters).
func (idx *Index) Add(key, param string, attrs ...ir.CustomAttribute) {
	key = norm.NFC.String(key)
	e := idx.entries[key]
	if e == nil {
		e = &Entry{Params: map[string][]ir.CustomAttribute{}}
		idx.entries[key] = e
	}
	if param == "" {
		e.Attributes = append(e.Attributes, attrs...)
		return
	}
	e.Params[param] = append(e.Params[param], attrs...)
}

type xmlAssembly struct {
	XMLName xml.Name    `xml:"assembly"`
	Name    string      `xml:"name,attr"`
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name       string         `xml:"name,attr"`
	Attributes []xmlAttribute `xml:"attribute"`
	Parameters []xmlParameter `xml:"parameter"`
}

type xmlParameter struct {
	Name       string         `xml:"name,attr"`
	Attributes []xmlAttribute `xml:"attribute"`
}

type xmlAttribute struct {
	Ctor string `xml:"ctor,attr"`
}

// Parse reads an annotation document.
func Parse(r io.Reader) (*Index, error) {
	var doc xmlAssembly
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse external annotations: %w", err)
	}
	idx := NewIndex()
	for _, m := range doc.Members {
		if m.Name == "" {
			return nil, fmt.Errorf("parse external annotations: member without name")
		}
		for _, a := range m.Attributes {
			idx.Add(m.Name, "", attributeFromCtor(a.Ctor))
		}
		for _, p := range m.Parameters {
			for _, a := range p.Attributes {
				idx.Add(m.Name, p.Name, attributeFromCtor(a.Ctor))
			}
		}
	}
	return idx, nil
}

// attributeFromCtor turns "M:JetBrains.Annotations.NotNullAttribute.#ctor"
// into an attribute of type JetBrains.Annotations.NotNullAttribute.
func attributeFromCtor(ctor string) ir.CustomAttribute {
	name := strings.TrimPrefix(ctor, "M:")
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, ".#ctor")
	return ir.CustomAttribute{Type: name}
}

// SidecarPath returns the annotation file path for an assembly path.
func SidecarPath(assemblyPath string) string {
	return strings.TrimSuffix(assemblyPath, filepath.Ext(assemblyPath)) + SidecarSuffix
}

// LoadFile reads the sidecar at path. A missing file yields an empty index.
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open external annotations: %w", err)
	}
	defer f.Close()
	idx, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// Cache holds one index per assembly for a single weaving session.
// It is not safe for concurrent use; each session owns its own Cache.
type Cache struct {
	byAssembly map[string]*Index
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{byAssembly: map[string]*Index{}}
}

// Load reads the sidecar of asm once. Assemblies without a path get an
// empty index.
func (c *Cache) Load(asm *ir.Assembly) error {
	key := cacheKey(asm)
	if _, ok := c.byAssembly[key]; ok {
		return nil
	}
	if asm.Path == "" {
		c.byAssembly[key] = NewIndex()
		return nil
	}
	idx, err := LoadFile(SidecarPath(asm.Path))
	if err != nil {
		return err
	}
	c.byAssembly[key] = idx
	return nil
}

// Put installs an index for asm directly.
func (c *Cache) Put(asm *ir.Assembly, idx *Index) {
	c.byAssembly[cacheKey(asm)] = idx
}

// For returns the index of asm, or nil when none was loaded.
func (c *Cache) For(asm *ir.Assembly) *Index {
	if c == nil || asm == nil {
		return nil
	}
	return c.byAssembly[cacheKey(asm)]
}

// cacheKey identifies an assembly by name and path so that two assemblies
// sharing a simple name but loaded from different files stay apart.
func cacheKey(asm *ir.Assembly) string {
	return asm.Name + "|" + asm.Path
}
