package sparse

import (
	"path"
	"strings"
	"unicode"

	"github.com/llamaha/sagitta-sub001/internal/tokenizer"
)

var codeExtensions = []string{
	".rs", ".go", ".py", ".js", ".ts", ".java", ".cpp", ".c", ".h", ".hpp",
	".rb", ".php", ".cs", ".kt", ".swift", ".scala", ".clj", ".hs", ".elm",
	".dart", ".vue", ".jsx", ".tsx", ".md", ".toml", ".yaml", ".yml", ".json",
}

// roleWords are names that commonly appear in file names; they count as
// filename-shaped when the query talks about files.
var roleWords = map[string]struct{}{
	"uploader": {}, "handler": {}, "processor": {}, "manager": {}, "controller": {},
	"service": {}, "helper": {}, "util": {}, "utils": {},
}

var contextWords = []string{"filename", "file", "uploader", "handler", "processor", "manager"}

// filenameTokens returns the terms derived from path: the extension without
// its dot, the stem, and the stem's segments. Case follows the tokenizer.
func (b *Builder) filenameTokens(p string) map[string]struct{} {
	base := path.Base(p)
	if p == "" || base == "." || base == "/" {
		return nil
	}

	fold := strings.ToLower
	if b.tok.Config().PreserveCase {
		fold = func(s string) string { return s }
	}

	out := make(map[string]struct{})
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		out[fold(ext)] = struct{}{}
	}
	if stem != "" && !strings.ContainsAny(stem, "-.") {
		out[fold(stem)] = struct{}{}
	}
	for _, seg := range tokenizer.SplitIdentifier(stem) {
		if seg != "" {
			out[fold(seg)] = struct{}{}
		}
	}
	return out
}

// FilenameWords returns the whitespace-separated words of query that look
// like file names: a code extension, a separator (_ - .), or mixed case
// longer than three characters. When the query talks about files, common
// role words (handler, manager) count too.
func FilenameWords(query string) []string {
	lower := strings.ToLower(query)
	fileContext := false
	for _, w := range contextWords {
		if strings.Contains(lower, w) {
			fileContext = true
			break
		}
	}

	var out []string
	for _, raw := range strings.Fields(query) {
		word := strings.Trim(raw, "\"'`,;:()[]{}?!")
		if word == "" {
			continue
		}
		if IsFilenameShaped(word) {
			out = append(out, word)
			continue
		}
		if _, ok := roleWords[strings.ToLower(word)]; ok && fileContext {
			out = append(out, word)
		}
	}
	return out
}

// IsFilenameShaped reports whether word looks like a file name or part of one.
func IsFilenameShaped(word string) bool {
	lw := strings.ToLower(word)
	for _, ext := range codeExtensions {
		if strings.HasSuffix(lw, ext) && len(lw) > len(ext) {
			return true
		}
	}
	if strings.ContainsAny(word, "_-.") {
		return true
	}
	if len(word) > 3 {
		for _, r := range word {
			if unicode.IsUpper(r) {
				return true
			}
		}
	}
	return false
}
