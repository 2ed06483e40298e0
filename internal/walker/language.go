package walker

import (
	"path"
	"strings"
)

// DefaultExtensions is the indexable extension set used when none is configured.
var DefaultExtensions = []string{
	"rs", "ts", "tsx", "js", "jsx", "py", "go", "java", "c", "cpp", "cc", "h", "hpp",
	"cs", "rb", "php", "swift", "kt", "kts", "scala", "lua", "md", "txt", "json", "yaml", "toml",
}

var languages = map[string]string{
	"go":    "go",
	"rs":    "rust",
	"ts":    "typescript",
	"tsx":   "tsx",
	"js":    "javascript",
	"jsx":   "javascript",
	"py":    "python",
	"java":  "java",
	"c":     "c",
	"h":     "c",
	"cpp":   "cpp",
	"cc":    "cpp",
	"hpp":   "cpp",
	"cs":    "csharp",
	"rb":    "ruby",
	"php":   "php",
	"swift": "swift",
	"kt":    "kotlin",
	"kts":   "kotlin",
	"scala": "scala",
	"lua":   "lua",
	"md":    "markdown",
}

// Extension returns the lower-cased extension of p without the dot.
func Extension(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// Language maps a path to a language name, or "" for plain data/text files.
func Language(p string) string {
	return languages[Extension(p)]
}
