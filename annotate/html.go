package annotate

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxBodyText caps the text sent for annotation, in runes.
const MaxBodyText = 10000

// ExtractText returns the text of every paragraph and list item in doc,
// one per line, with whitespace collapsed. The result is cut to limit
// runes; limit <= 0 means MaxBodyText.
func ExtractText(doc string, limit int) (string, error) {
	if limit <= 0 {
		limit = MaxBodyText
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var blocks []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.P || n.DataAtom == atom.Li) {
			if t := strings.Join(strings.Fields(textContent(n)), " "); t != "" {
				blocks = append(blocks, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	text := strings.Join(blocks, "\n")
	if utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit])
	}
	return text, nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// RewriteImageSources points relative <img src> attributes at the asset
// host: src becomes assetsRoot/<category>/<src>. Absolute http(s) sources
// are left alone. With an empty assetsRoot the fragment is returned as is.
func RewriteImageSources(fragment, assetsRoot, category string) (string, error) {
	if assetsRoot == "" {
		return fragment, nil
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	root := strings.TrimRight(assetsRoot, "/")
	changed := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			for i, a := range n.Attr {
				if a.Key != "src" || a.Val == "" || strings.HasPrefix(a.Val, "http") {
					continue
				}
				rel := strings.TrimPrefix(path.Join("/", strings.TrimPrefix(category, "/"), a.Val), "/")
				n.Attr[i].Val = root + "/" + rel
				changed = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	if !changed {
		return fragment, nil
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return buf.String(), nil
}
