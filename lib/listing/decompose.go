package listing

import "strings"

// Decomposition is the prefix chain of a single key.
//
// For key "b/d1/d2/f" and delimiter '/':
//
//	Prefixes: ["b/", "b/d1/", "b/d1/d2/"]
//	Dirs:     ["b/", "d1/", "d2/"]
//	File:     "f"
//
// Dirs[i] is the name under which Prefixes[i] is linked into its parent
// (the root prefix for i == 0, Prefixes[i-1] otherwise).
type Decomposition struct {
	Prefixes []string
	Dirs     []string
	File     string
}

// Link is a single (prefix, child) pair of the index.
// ChildPrefix is the prefix entry the child stands for, or empty if the child is a file.
type Link struct {
	Prefix      string
	Child       string
	ChildPrefix string
}

// Decompose splits key at every occurrence of delim.
// An empty File means the key ends with the delimiter and is not a hierarchical key.
func Decompose(key string, delim byte) Decomposition {
	var d Decomposition
	start := 0
	for {
		i := strings.IndexByte(key[start:], delim)
		if i < 0 {
			break
		}
		end := start + i + 1
		d.Prefixes = append(d.Prefixes, key[:end])
		d.Dirs = append(d.Dirs, key[start:end])
		start = end
	}
	d.File = key[start:]
	return d
}

// Depth is the number of delimiters in the key
func (d Decomposition) Depth() int {
	return len(d.Prefixes)
}

// Links returns every (prefix, child) pair the key contributes to the index, most specific first.
// The last link always belongs to the root prefix.
func (d Decomposition) Links() []Link {
	links := make([]Link, 0, len(d.Prefixes)+1)
	links = append(links, Link{Prefix: d.parentOf(len(d.Prefixes)), Child: d.File})
	for i := len(d.Prefixes) - 1; i >= 0; i-- {
		links = append(links, Link{Prefix: d.parentOf(i), Child: d.Dirs[i], ChildPrefix: d.Prefixes[i]})
	}
	return links
}

// parentOf returns the prefix that holds level i: the root for level 0, Prefixes[i-1] otherwise
func (d Decomposition) parentOf(level int) string {
	if level == 0 {
		return RootPrefix
	}
	return d.Prefixes[level-1]
}
