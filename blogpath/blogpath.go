// Package blogpath implements the path algebra shared by the tree index,
// the navigator and the filesystem: all paths are absolute, slash
// separated, and carry no trailing slash except for the root.
package blogpath

import (
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Root is the path of the top-level category.
const Root = "/"

var (
	fileEndRegex      = regexp.MustCompile(`\.[^.]{2,7}\s*$`)
	headingDelimRegex = regexp.MustCompile(`[-_]`)
)

// Normalize maps the empty string to Root, ensures a leading slash and
// strips a trailing slash unless the result is Root.
func Normalize(p string) string {
	if p == "" {
		return Root
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// Dirname returns the parent of p. The parent of Root, of the empty
// string and of every top-level entry is Root.
func Dirname(p string) string {
	if p == "" || p == Root {
		return Root
	}
	p = strings.TrimRight(p, "/")
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Basename returns the final segment of p, or Root for Root and the
// empty string.
func Basename(p string) string {
	if p == "" || p == Root {
		return Root
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return Root
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// IsFile reports whether the final segment of p ends in a content-file
// extension. Dots in parent directory names are not considered.
func IsFile(p string) bool {
	base := Basename(p)
	if base == Root {
		return false
	}
	return fileEndRegex.MatchString(base)
}

// Join joins the non-empty parts with slashes, resolves ".." segments,
// collapses repeated slashes and strips the trailing slash.
func Join(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	return path.Join(nonEmpty...)
}

// Depth returns the number of slashes in p, i.e. 1 for a top-level entry.
func Depth(p string) int {
	return strings.Count(p, "/")
}

// Heading turns a file or directory name into a display title: dashes
// and underscores become spaces, words of three or more letters are
// capitalized and the file extension is dropped.
func Heading(name string) string {
	words := strings.Split(headingDelimRegex.ReplaceAllString(name, " "), " ")
	for i, w := range words {
		if utf8.RuneCountInString(w) < 3 {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return fileEndRegex.ReplaceAllString(strings.Join(words, " "), "")
}
