package patch

// Runtime function names, one per instruction.
const (
	fnSegment = "$RS"
	fnReveal  = "$RC"
	fnStyles  = "$RR"
	fnClient  = "$RX"
)

// runtimeSource holds the browser implementation of each instruction. A
// stream sends a definition once, before its first use.
var runtimeSource = map[string]string{
	fnSegment: `$RS=function(a,b){a=document.getElementById(a);b=document.getElementById(b);if(!a||!b)return;a.parentNode.removeChild(a);for(;a.firstChild;)b.parentNode.insertBefore(a.firstChild,b);b.parentNode.removeChild(b)};`,

	fnReveal: `$RC=function(b,c){c=document.getElementById(c);b=document.getElementById(b);if(!c||!b)return;c.parentNode.removeChild(c);var p=b.parentNode,n=b.previousSibling,d=0,x=b,y;do{y=x.nextSibling;p.removeChild(x);if(y&&y.nodeType===8){if(y.data==="/$"){if(d===0)break;d--}else if(y.data==="$"||y.data==="$?"||y.data==="$!")d++}x=y}while(x);for(;c.firstChild;)p.insertBefore(c.firstChild,y);n.data="$";n._retry&&n._retry()};`,

	fnStyles: `$RR=function(b,c,s){var h=document.head,w=[],f=[];s.forEach(function(e){var q='link[rel="stylesheet"][href="'+CSS.escape(e[0])+'"]',l=h.querySelector(q);if(!l){var p=e[1]||"default",a=e[2]||{},g=h.querySelectorAll('[data-precedence="'+CSS.escape(p)+'"]');g.length||(g=h.querySelectorAll("[data-precedence]"));l=document.createElement("link");l.rel="stylesheet";l.href=e[0];l.setAttribute("data-precedence",p);for(var k in a)l.setAttribute(k,a[k]);h.insertBefore(l,g.length?g[g.length-1].nextSibling:null)}l._p||(l._p=new Promise(function(y){l.onload=function(){y(1)};l.onerror=function(){y(2)}}));w.push(l._p.then(function(r){r===2&&f.push(e[0])}))});Promise.all(w).then(function(){f.length?window.$RX&&$RX(b,"Resource failed to load"):$RC(b,c)})};`,

	fnClient: `$RX=function(b,d,m,s){var t=document.getElementById(b);if(!t)return;var n=t.previousSibling;n.data="$!";d&&t.setAttribute("data-dgst",d);m&&t.setAttribute("data-msg",m);s&&t.setAttribute("data-stck",s);n._retry&&n._retry()};`,
}

// ExternalRuntimeSource is the script served at an external runtime URL. It
// defines every instruction and applies <template> instructions as they are
// parsed.
func ExternalRuntimeSource() string {
	src := runtimeSource[fnSegment] + runtimeSource[fnReveal] + runtimeSource[fnClient] + runtimeSource[fnStyles]
	return "(function(){" + src +
		`function a(t){var d=t.dataset;t.parentNode&&t.parentNode.removeChild(t);` +
		`if("rsi"in d)$RS(d.sid,d.pid);else if("rci"in d)$RC(d.bid,d.sid);` +
		`else if("rri"in d)$RR(d.bid,d.sid,JSON.parse(d.sty));else if("rxi"in d)$RX(d.bid,d.dgst,d.msg,d.stck)}` +
		`function s(){document.querySelectorAll("template[data-rsi],template[data-rci],template[data-rri],template[data-rxi]").forEach(a)}` +
		`new MutationObserver(s).observe(document.documentElement,{childList:!0,subtree:!0});s()})();`
}
