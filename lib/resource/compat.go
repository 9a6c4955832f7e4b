package resource

import "fmt"

// Diagnostic describes a declaration whose props conflict with the record
// that already owns the key. The existing props are kept.
type Diagnostic struct {
	Key      Key
	Field    string
	Existing string
	Incoming string
	Origin   Origin
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: conflicting %s %q (kept %q)", d.Key, d.Field, d.Incoming, d.Existing)
}

type field struct {
	name string
	get  func(*Props) string
}

var (
	fieldPrecedence  = field{"precedence", func(p *Props) string { return p.Precedence }}
	fieldCrossOrigin = field{"crossOrigin", func(p *Props) string { return p.CrossOrigin }}
	fieldIntegrity   = field{"integrity", func(p *Props) string { return p.Integrity }}
	fieldMedia       = field{"media", func(p *Props) string { return p.Media }}
	fieldType        = field{"type", func(p *Props) string { return p.Type }}
	fieldAs          = field{"as", func(p *Props) string { return p.As }}
	fieldImageSrcSet = field{"imageSrcSet", func(p *Props) string { return p.ImageSrcSet }}
)

// compatFields lists, per kind, the props that must agree between two
// declarations of the same key. A field set on only one side never conflicts.
var compatFields = map[Kind][]field{
	KindStylesheet: {fieldPrecedence, fieldCrossOrigin, fieldIntegrity, fieldMedia},
	KindStyle:      {fieldPrecedence},
	KindScript:     {fieldCrossOrigin, fieldIntegrity, fieldType},
	KindPreload:    {fieldAs, fieldCrossOrigin, fieldIntegrity, fieldType, fieldMedia, fieldImageSrcSet},
	KindFont:       {fieldCrossOrigin, fieldType},
}

func conflicts(key Key, existing, incoming *Props, origin Origin) []Diagnostic {
	var diags []Diagnostic
	for _, f := range compatFields[key.Kind] {
		a, b := f.get(existing), f.get(incoming)
		if a == "" || b == "" || a == b {
			continue
		}
		diags = append(diags, Diagnostic{
			Key:      key,
			Field:    f.name,
			Existing: a,
			Incoming: b,
			Origin:   origin,
		})
	}
	return diags
}
