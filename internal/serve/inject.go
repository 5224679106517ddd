package serve

import (
	"fmt"
	"strings"
)

// navScriptTemplate is the navigation shim injected into served HTML
// for embedded-preview use. It intercepts same-origin anchor clicks,
// reports the target sub-path to the parent frame, then performs the
// navigation itself. Hovered same-origin links are prefetched.
const navScriptTemplate = `<script>
(function () {
  var currentPath = %q;
  function sameOriginTarget(el) {
    var a = el && el.closest ? el.closest("a") : null;
    if (!a || !a.href) return null;
    var url = new URL(a.href, window.location.href);
    if (url.origin !== window.location.origin) return null;
    return { anchor: a, url: url };
  }
  document.addEventListener("click", function (e) {
    var t = sameOriginTarget(e.target);
    if (!t) return;
    e.preventDefault();
    if (window.parent && window.parent !== window) {
      window.parent.postMessage({ type: "sitebox:navigate", path: t.url.pathname, from: currentPath }, "*");
    }
    window.location.href = t.url.href;
  });
  document.addEventListener("mouseover", function (e) {
    var t = sameOriginTarget(e.target);
    if (!t || t.anchor.dataset.sbPrefetched) return;
    t.anchor.dataset.sbPrefetched = "1";
    var link = document.createElement("link");
    link.rel = "prefetch";
    link.href = t.url.href;
    document.head.appendChild(link);
  });
})();
</script>`

// InjectNavigationScript inserts the navigation script into an HTML
// document: before </body> when present, otherwise before </html>,
// otherwise appended at the end. Pure string transform, independent of
// the HTTP layer.
func InjectNavigationScript(html, subPath string) string {
	script := fmt.Sprintf(navScriptTemplate, subPath)

	if idx := lastIndexFold(html, "</body>"); idx >= 0 {
		return html[:idx] + script + html[idx:]
	}
	if idx := lastIndexFold(html, "</html>"); idx >= 0 {
		return html[:idx] + script + html[idx:]
	}
	return html + script
}

// lastIndexFold is a case-insensitive strings.LastIndex for ASCII
// needles like closing tags.
func lastIndexFold(s, needle string) int {
	return strings.LastIndex(strings.ToLower(s), strings.ToLower(needle))
}
