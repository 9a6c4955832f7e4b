package resource

import "github.com/pthm/hxstream/lib/node"

// Class says how an element participates in rendering.
type Class uint8

const (
	// ClassContent elements render in place.
	ClassContent Class = iota
	// ClassResource elements are registered and elided from the content stream.
	ClassResource
	// ClassHoistable elements render into <head> instead of in place, without dedup.
	ClassHoistable
)

// Scope describes the insertion context of an element. Resource and hoisting
// behaviour is suppressed inside svg (including foreignObject) and noscript.
type Scope struct {
	InSVG      bool
	InNoscript bool
}

// Suppressed reports whether the scope disables resources and hoisting.
func (s Scope) Suppressed() bool {
	return s.InSVG || s.InNoscript
}

// Element is the attribute view needed for classification. It is satisfied
// by *node.Element and by DOM adapters.
type Element interface {
	Attr(key string) (string, bool)
	HasListener(event string) bool
}

// Decl is a resource declaration derived from an element.
type Decl struct {
	Kind  Kind
	Href  string
	Props Props
}

// Classify decides whether an element is content, a resource, or a hoistable
// element. text is the element's text content, used for inline styles.
func Classify(tag string, el Element, text string, scope Scope) (Class, Decl) {
	if scope.Suppressed() {
		return ClassContent, Decl{}
	}
	if _, ok := attr(el, "itemprop", "itemProp"); ok {
		return ClassContent, Decl{}
	}

	switch tag {
	case "link":
		return classifyLink(el)
	case "script":
		src, _ := attr(el, "src")
		_, async := attr(el, "async")
		if src == "" || !async || el.HasListener("load") || el.HasListener("error") {
			return ClassContent, Decl{}
		}
		return ClassResource, Decl{Kind: KindScript, Href: src, Props: PropsOf(el)}
	case "style":
		href, _ := attr(el, "href")
		prec, _ := attr(el, "precedence")
		if href == "" || prec == "" {
			return ClassContent, Decl{}
		}
		props := PropsOf(el)
		props.Content = text
		return ClassResource, Decl{Kind: KindStyle, Href: href, Props: props}
	case "title", "meta":
		return ClassHoistable, Decl{}
	}
	return ClassContent, Decl{}
}

func classifyLink(el Element) (Class, Decl) {
	rel, _ := attr(el, "rel")
	href, _ := attr(el, "href")
	if href == "" {
		return ClassContent, Decl{}
	}
	props := PropsOf(el)

	switch rel {
	case "stylesheet":
		_, disabled := attr(el, "disabled")
		if props.Precedence == "" || disabled || el.HasListener("load") || el.HasListener("error") {
			return ClassContent, Decl{}
		}
		return ClassResource, Decl{Kind: KindStylesheet, Href: href, Props: props}
	case "preload", "modulepreload":
		if rel == "preload" && props.As == "" {
			return ClassHoistable, Decl{}
		}
		return ClassResource, Decl{Kind: PreloadKind(props), Href: href, Props: props}
	}
	return ClassHoistable, Decl{}
}

// PropsOf extracts the canonical props from an element's attributes.
func PropsOf(el Element) Props {
	get := func(names ...string) string {
		v, _ := attr(el, names...)
		return v
	}
	return Props{
		Rel:            get("rel"),
		As:             get("as"),
		CrossOrigin:    get("crossorigin", "crossOrigin"),
		Integrity:      get("integrity"),
		Media:          get("media"),
		Precedence:     get("precedence", "data-precedence"),
		Type:           get("type"),
		Nonce:          get("nonce"),
		FetchPriority:  get("fetchpriority", "fetchPriority"),
		ReferrerPolicy: get("referrerpolicy", "referrerPolicy"),
		ImageSrcSet:    get("imagesrcset", "imageSrcSet"),
		ImageSizes:     get("imagesizes", "imageSizes"),
	}
}

// PreloadKind returns the kind a preload with props is registered under.
func PreloadKind(props Props) Kind {
	if props.As == "font" {
		return KindFont
	}
	return KindPreload
}

func attr(el Element, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := el.Attr(n); ok {
			return v, true
		}
	}
	return "", false
}

// Markup returns the element form of a record. Inline styles return only
// their wrapper attributes; the CSS text is Props.Content.
func Markup(rec *Record) (tag string, attrs []node.Attr) {
	p := rec.Props
	switch rec.Kind {
	case KindStylesheet:
		attrs = node.A("rel", "stylesheet", "href", rec.Href, "data-precedence", p.Precedence)
		attrs = appendSet(attrs, "crossorigin", p.CrossOrigin, "integrity", p.Integrity, "media", p.Media,
			"fetchpriority", p.FetchPriority, "referrerpolicy", p.ReferrerPolicy)
		return "link", attrs
	case KindStyle:
		attrs = node.A("data-precedence", p.Precedence, "data-href", rec.Href)
		attrs = appendSet(attrs, "media", p.Media, "nonce", p.Nonce)
		return "style", attrs
	case KindScript:
		attrs = node.A("src", rec.Href, "async")
		attrs = appendSet(attrs, "type", p.Type, "crossorigin", p.CrossOrigin, "integrity", p.Integrity,
			"nonce", p.Nonce, "fetchpriority", p.FetchPriority, "referrerpolicy", p.ReferrerPolicy)
		return "script", attrs
	case KindFont:
		attrs = node.A("rel", "preload", "href", rec.Href, "as", "font")
		attrs = appendSet(attrs, "type", p.Type)
		attrs = append(attrs, node.Attr{Key: "crossorigin", Value: p.CrossOrigin})
		return "link", attrs
	default:
		rel := p.Rel
		if rel == "" {
			rel = "preload"
		}
		attrs = node.A("rel", rel, "href", rec.Href)
		attrs = appendSet(attrs, "as", p.As, "crossorigin", p.CrossOrigin, "integrity", p.Integrity,
			"type", p.Type, "media", p.Media, "fetchpriority", p.FetchPriority,
			"referrerpolicy", p.ReferrerPolicy, "imagesrcset", p.ImageSrcSet, "imagesizes", p.ImageSizes)
		return "link", attrs
	}
}

// PreloadHint returns the <link rel=preload> attributes that start fetching
// a stylesheet or script before its real tag is committed.
func PreloadHint(rec *Record) []node.Attr {
	p := rec.Props
	switch rec.Kind {
	case KindScript:
		if p.Type == "module" {
			return appendSet(node.A("rel", "modulepreload", "href", rec.Href),
				"crossorigin", p.CrossOrigin, "integrity", p.Integrity)
		}
		return appendSet(node.A("rel", "preload", "href", rec.Href, "as", "script"),
			"crossorigin", p.CrossOrigin, "integrity", p.Integrity)
	default:
		return appendSet(node.A("rel", "preload", "href", rec.Href, "as", "style"),
			"crossorigin", p.CrossOrigin, "integrity", p.Integrity, "media", p.Media)
	}
}

func appendSet(attrs []node.Attr, kv ...string) []node.Attr {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			attrs = append(attrs, node.Attr{Key: kv[i], Value: kv[i+1]})
		}
	}
	return attrs
}
