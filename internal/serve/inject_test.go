package serve

import (
	"strings"
	"testing"
)

func TestInjectBeforeBody(t *testing.T) {
	html := "<html><head></head><body><h1>hi</h1></body></html>"
	out := InjectNavigationScript(html, "/docs")

	scriptIdx := strings.Index(out, "<script>")
	bodyIdx := strings.Index(out, "</body>")
	if scriptIdx < 0 {
		t.Fatal("no script injected")
	}
	if scriptIdx > bodyIdx {
		t.Errorf("script injected after </body>")
	}
	if !strings.Contains(out, `"/docs"`) {
		t.Error("injected script does not carry the sub-path")
	}
	if !strings.Contains(out, "<h1>hi</h1>") {
		t.Error("original content lost")
	}
}

func TestInjectBeforeHTMLWhenNoBody(t *testing.T) {
	html := "<html><p>bare</p></html>"
	out := InjectNavigationScript(html, "/")

	scriptIdx := strings.Index(out, "<script>")
	htmlIdx := strings.Index(out, "</html>")
	if scriptIdx < 0 || scriptIdx > htmlIdx {
		t.Errorf("script not injected before </html>: %q", out)
	}
}

func TestInjectAppendsWhenNoClosingTags(t *testing.T) {
	html := "<p>fragment</p>"
	out := InjectNavigationScript(html, "/")

	if !strings.HasPrefix(out, html) {
		t.Error("original fragment not preserved at start")
	}
	if !strings.Contains(out, "<script>") {
		t.Error("no script appended")
	}
}

func TestInjectCaseInsensitiveTags(t *testing.T) {
	html := "<HTML><BODY>x</BODY></HTML>"
	out := InjectNavigationScript(html, "/")

	scriptIdx := strings.Index(out, "<script>")
	bodyIdx := strings.Index(out, "</BODY>")
	if scriptIdx < 0 || scriptIdx > bodyIdx {
		t.Errorf("script not injected before uppercase </BODY>: %q", out)
	}
}

func TestInjectMentionsParentPostMessage(t *testing.T) {
	out := InjectNavigationScript("<body></body>", "/page")
	if !strings.Contains(out, "postMessage") {
		t.Error("script does not post to parent window")
	}
	if !strings.Contains(out, "prefetch") {
		t.Error("script does not prefetch hovered links")
	}
}
